package session

import (
	"context"
	"reflect"

	"gokeep/entity"
	"gokeep/errors"
)

// Set 会话中某一记录类型的类型化视图
//
// T 为记录指针类型（如 *Widget），K 为主键类型。
type Set[T any, K comparable] struct {
	s   *Session
	typ reflect.Type
}

// SetOf 创建类型化视图；T 不是结构体指针时 panic
func SetOf[T any, K comparable](s *Session) *Set[T, K] {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		panic(errors.NewConfigurationError("record type", typ))
	}
	return &Set[T, K]{s: s, typ: typ}
}

// Session 返回所属会话
func (x *Set[T, K]) Session() *Session {
	return x.s
}

// Find 按主键读取并跟踪；优先返回身份映射中的实例
func (x *Set[T, K]) Find(ctx context.Context, key K) (T, bool, error) {
	var zero T
	if e, ok := x.s.entries[identity{typ: x.typ, key: any(key)}]; ok {
		if e.state == entity.Deleted {
			return zero, false, nil
		}
		return e.record.(T), true, nil
	}
	out, err := x.FindMany(ctx, []K{key})
	if err != nil || len(out) == 0 {
		return zero, false, err
	}
	return out[0], true, nil
}

// FindMany 按主键批量读取并跟踪，不存在的主键被忽略。
// 身份已跟踪且没有未保存修改时，返回的已跟踪实例会被刷新为加载到的值。
func (x *Set[T, K]) FindMany(ctx context.Context, keys []K) ([]T, error) {
	loaded, err := x.s.backend.Load(ctx, x.typ, toAny(keys))
	if err != nil {
		return nil, err
	}
	return x.adoptAll(loaded)
}

// All 读取全部记录并跟踪
func (x *Set[T, K]) All(ctx context.Context) ([]T, error) {
	loaded, err := x.s.backend.LoadAll(ctx, x.typ)
	if err != nil {
		return nil, err
	}
	return x.adoptAll(loaded)
}

// FindNoTracking 按主键读取，不进入身份映射；返回的记录带无跟踪标记
func (x *Set[T, K]) FindNoTracking(ctx context.Context, key K) (T, bool, error) {
	var zero T
	loaded, err := x.s.backend.Load(ctx, x.typ, []any{key})
	if err != nil || len(loaded) == 0 {
		return zero, false, err
	}
	markNoTracking(loaded[0], map[any]bool{})
	return loaded[0].(T), true, nil
}

// FindManyNoTracking 按主键批量读取，不进入身份映射
func (x *Set[T, K]) FindManyNoTracking(ctx context.Context, keys []K) ([]T, error) {
	loaded, err := x.s.backend.Load(ctx, x.typ, toAny(keys))
	if err != nil {
		return nil, err
	}
	return detachAll[T](loaded), nil
}

// AllNoTracking 读取全部记录，不进入身份映射
func (x *Set[T, K]) AllNoTracking(ctx context.Context) ([]T, error) {
	loaded, err := x.s.backend.LoadAll(ctx, x.typ)
	if err != nil {
		return nil, err
	}
	return detachAll[T](loaded), nil
}

func detachAll[T any](loaded []any) []T {
	seen := map[any]bool{}
	out := make([]T, len(loaded))
	for i, r := range loaded {
		markNoTracking(r, seen)
		out[i] = r.(T)
	}
	return out
}

// Local 返回身份映射中该类型的全部实例（不含 Deleted）
func (x *Set[T, K]) Local() []T {
	x.s.compact()
	var out []T
	for _, e := range x.s.order {
		if e.id.typ == x.typ && e.state != entity.Deleted {
			out = append(out, e.record.(T))
		}
	}
	return out
}

func (x *Set[T, K]) adoptAll(loaded []any) ([]T, error) {
	out := make([]T, 0, len(loaded))
	for _, r := range loaded {
		adopted, err := x.s.adopt(r)
		if err != nil {
			return nil, err
		}
		if x.s.State(adopted) == entity.Deleted {
			continue
		}
		out = append(out, adopted.(T))
	}
	return out, nil
}

// markNoTracking 为记录及其关联子记录打上无跟踪标记
func markNoTracking(record any, seen map[any]bool) {
	if seen[record] {
		return
	}
	seen[record] = true
	if nt, ok := record.(entity.INoTracking); ok {
		nt.MarkNoTracking()
	}
	meta, err := entity.DescribeOf(record)
	if err != nil {
		return
	}
	for _, a := range meta.Associations {
		for _, c := range entity.Children(record, a) {
			markNoTracking(c, seen)
		}
	}
}

func toAny[K comparable](keys []K) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
