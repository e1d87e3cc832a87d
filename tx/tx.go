// Package tx 提供事务包装：保证每条退出路径上事务恰好结束一次
package tx

import (
	"context"
	"fmt"

	"gokeep/errors"
	"gokeep/logging"
	"gokeep/store"
)

// Transform 把 action 中的 panic 转换为返回给调用方的错误
type Transform func(recovered any) error

type options struct {
	transform Transform
	logger    logging.Logger
}

// Option CommitOrRollback 选项
type Option func(*options)

// WithTransform 指定 panic 转换函数
func WithTransform(fn Transform) Option {
	return func(o *options) { o.transform = fn }
}

// WithLogger 指定日志
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// DefaultTransform 把 panic 值包装为 TRANSACTION_ERROR；error 类型的值作为 cause 保留
func DefaultTransform(recovered any) error {
	if err, ok := recovered.(error); ok {
		return errors.WrapError(err, errors.ErrCodeTransaction, "transaction action panicked")
	}
	return errors.Newf(errors.ErrCodeTransaction, "transaction action panicked: %v", recovered)
}

// CommitOrRollback 在事务 t 中执行 action
//
//   - action 返回 nil 时提交，提交失败的错误原样返回；
//   - action 返回错误时回滚，并原样返回该错误；
//   - action panic 时回滚，panic 值经 Transform 转换后返回。
//
// 返回前总会调用 t.Close，事务不会停留在 Open 状态。
func CommitOrRollback(ctx context.Context, t store.ITransaction, action func(ctx context.Context) error, opts ...Option) (err error) {
	o := options{transform: DefaultTransform}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.ComponentLogger(nil, "tx")
	}

	defer func() {
		if cerr := t.Close(ctx); cerr != nil {
			o.logger.Warn(ctx, "close transaction failed", logging.Error(cerr))
		}
	}()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if rerr := t.Rollback(ctx); rerr != nil {
			o.logger.Warn(ctx, "rollback after panic failed", logging.Error(rerr))
		}
		err = o.transform(r)
		if err == nil {
			err = fmt.Errorf("transaction action panicked: %v", r)
		}
		o.logger.Error(ctx, "transaction action panicked", logging.Error(err))
	}()

	if err = action(ctx); err != nil {
		if rerr := t.Rollback(ctx); rerr != nil {
			o.logger.Warn(ctx, "rollback failed", logging.Error(rerr))
		}
		return err
	}
	return t.Commit(ctx)
}
