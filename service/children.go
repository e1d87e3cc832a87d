package service

import (
	"context"
	"reflect"

	"gokeep/entity"
	"gokeep/errors"
)

// ReplaceChildren 把父记录的子集合替换为 childIDs 对应的记录，并在一次 Update 中提交
//
// 仅存在于旧集合的子记录从集合中移除并从会话分离（子记录本身不删除）；
// 仅存在于新集合的主键构造只含主键的占位记录，以 Unchanged 附加后追加到集合。
// 任一占位记录已被跟踪时整个操作失败。两边都有的子记录保持不变。
func ReplaceChildren[T any, K comparable, U any, C any, CK comparable](
	ctx context.Context,
	svc *WriteService[T, K, U],
	parentID K,
	selectChildren func(parent T) *[]C,
	childIDs []CK,
	by U,
) (T, error) {
	s := svc.writer.Session()
	childType := reflect.TypeOf((*C)(nil)).Elem()
	if childType.Kind() != reflect.Pointer {
		panic(errors.NewConfigurationError("child type", childType))
	}
	return svc.Update(ctx, parentID, func(parent T) error {
		children := selectChildren(parent)

		wanted := make(map[CK]bool, len(childIDs))
		for _, id := range childIDs {
			wanted[id] = true
		}

		next := make([]C, 0, len(childIDs))
		present := make(map[CK]bool, len(*children))
		for _, child := range *children {
			key, transient, ok := entity.KeyOf(child)
			if ok && !transient {
				if ck, ok := key.(CK); ok && wanted[ck] && !present[ck] {
					present[ck] = true
					next = append(next, child)
					continue
				}
			}
			s.Detach(child)
		}

		for _, id := range childIDs {
			if present[id] {
				continue
			}
			placeholder, ok := entity.New(childType).(C)
			if !ok {
				return errors.NewConfigurationError("child type", childType)
			}
			assignable, ok := any(placeholder).(entity.IKeyAssignable)
			if !ok {
				return errors.Newf(errors.ErrCodeInvalidInput, "%s cannot hold a key", childType)
			}
			if err := assignable.AssignKey(id); err != nil {
				return errors.WrapError(err, errors.ErrCodeInvalidInput, "assign child key")
			}
			if err := s.AttachUnchanged(placeholder); err != nil {
				return err
			}
			present[id] = true
			next = append(next, placeholder)
		}

		*children = next
		return nil
	}, by)
}
