// Package hooks 定义写入前钩子链
//
// 钩子在校验之前、对每条记录依次执行，负责填充审计字段、转换软删除等。
// 链中每个钩子都会执行恰好一次，即使前面的钩子已经失败。
package hooks

import (
	"context"
	"time"

	"gokeep/entity"
	"gokeep/errors"
)

// Hook 单个写入前钩子
//
// state 为记录在身份映射中的当前状态（未跟踪时为 Detached），
// by 为本次请求的操作者，at 为本次请求的统一时间戳。
type Hook[U any] func(ctx context.Context, record any, op entity.Operation, state entity.State, by U, at time.Time) error

// Chain 有序、不可变的钩子链
type Chain[U any] struct {
	hooks []Hook[U]
}

// New 用给定钩子整体替换默认链
func New[U any](hooks ...Hook[U]) Chain[U] {
	return Chain[U]{hooks: append([]Hook[U](nil), hooks...)}
}

// Default 默认链：创建人、创建时间、修改人、修改时间、删除人、删除时间、软删除
func Default[U any]() Chain[U] {
	return New(
		CreatedBy[U](),
		CreatedAt[U](),
		ModifiedBy[U](),
		ModifiedAt[U](),
		DeletedBy[U](),
		DeletedAt[U](),
		SoftDelete[U](),
	)
}

// Append 返回在末尾追加钩子后的新链，原链不变
func (c Chain[U]) Append(hooks ...Hook[U]) Chain[U] {
	out := make([]Hook[U], 0, len(c.hooks)+len(hooks))
	out = append(out, c.hooks...)
	out = append(out, hooks...)
	return Chain[U]{hooks: out}
}

// Len 钩子数量
func (c Chain[U]) Len() int {
	return len(c.hooks)
}

// Run 按顺序执行全部钩子；全部成功返回 nil，否则返回按顺序汇总的 *errors.MultiError
func (c Chain[U]) Run(ctx context.Context, record any, op entity.Operation, state entity.State, by U, at time.Time) error {
	errs := make([]error, 0, len(c.hooks))
	for _, h := range c.hooks {
		errs = append(errs, invoke(ctx, h, record, op, state, by, at))
	}
	return errors.CombineAll(errs...)
}

// invoke 把钩子内的 panic 转为错误，保证后续钩子照常执行
func invoke[U any](ctx context.Context, h Hook[U], record any, op entity.Operation, state entity.State, by U, at time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.WrapError(e, errors.ErrCodeHook, "hook panicked")
				return
			}
			err = errors.Newf(errors.ErrCodeHook, "hook panicked: %v", r)
		}
	}()
	return h(ctx, record, op, state, by, at)
}
