package service

import (
	"context"

	"gokeep/errors"
	"gokeep/session"
	"gokeep/validation"
)

// ReadService 按主键读取；tracked 为 false 时返回的记录带无跟踪标记，不能写回
type ReadService[T any, K comparable] struct {
	set *session.Set[T, K]
}

// NewReadService 创建读服务
func NewReadService[T any, K comparable](s *session.Session) *ReadService[T, K] {
	return &ReadService[T, K]{set: session.SetOf[T, K](s)}
}

func (r *ReadService[T, K]) All(ctx context.Context, tracked bool) ([]T, error) {
	if tracked {
		return r.set.All(ctx)
	}
	return r.set.AllNoTracking(ctx)
}

// GetByID 记录不存在时返回 NOT_FOUND
func (r *ReadService[T, K]) GetByID(ctx context.Context, id K, tracked bool) (T, error) {
	var (
		record T
		ok     bool
		err    error
	)
	if tracked {
		record, ok, err = r.set.Find(ctx, id)
	} else {
		record, ok, err = r.set.FindNoTracking(ctx, id)
	}
	if err == nil && !ok {
		err = errors.NewNotFoundError("%s with id %v not found", validation.TypeName[T](), id)
	}
	return record, err
}

func (r *ReadService[T, K]) GetByIDs(ctx context.Context, ids []K, tracked bool) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if tracked {
		return r.set.FindMany(ctx, ids)
	}
	return r.set.FindManyNoTracking(ctx, ids)
}

func (r *ReadService[T, K]) Exists(ctx context.Context, id K) (bool, error) {
	_, ok, err := r.set.FindNoTracking(ctx, id)
	return ok, err
}
