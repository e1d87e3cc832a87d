// Package service 在写入管道之上提供按主键的读写服务
package service

import (
	"context"
	"database/sql"

	"gokeep/errors"
	"gokeep/logging"
	"gokeep/session"
	"gokeep/tx"
	"gokeep/validation"
	"gokeep/writer"
)

// Config 写服务配置
type Config[T any] struct {
	Validator validation.IValidator[T]
	Cleaner   validation.ICleaner[T]
	// TxOptions UpdateMany 开启事务时使用的隔离级别等选项
	TxOptions *sql.TxOptions
	Logger    logging.Logger
}

// WriteService 基于写入管道的写服务
type WriteService[T any, K comparable, U any] struct {
	writer    *writer.Writer[T, K, U]
	set       *session.Set[T, K]
	validator validation.IValidator[T]
	cleaner   validation.ICleaner[T]
	txOptions *sql.TxOptions
	logger    logging.Logger
}

// NewWriteService 创建写服务
func NewWriteService[T any, K comparable, U any](w *writer.Writer[T, K, U], cfg Config[T]) *WriteService[T, K, U] {
	s := &WriteService[T, K, U]{
		writer:    w,
		set:       session.SetOf[T, K](w.Session()),
		validator: cfg.Validator,
		cleaner:   cfg.Cleaner,
		txOptions: cfg.TxOptions,
		logger:    cfg.Logger,
	}
	if s.logger == nil {
		s.logger = logging.ComponentLogger(nil, "service")
	}
	return s
}

// Writer 返回底层写入管道
func (s *WriteService[T, K, U]) Writer() *writer.Writer[T, K, U] {
	return s.writer
}

func (s *WriteService[T, K, U]) requestOptions() []writer.RequestOption[T] {
	var opts []writer.RequestOption[T]
	if s.validator != nil {
		opts = append(opts, writer.WithValidator(s.validator))
	}
	if s.cleaner != nil {
		opts = append(opts, writer.WithCleaner(s.cleaner))
	}
	return opts
}

// Insert 插入记录
func (s *WriteService[T, K, U]) Insert(ctx context.Context, record T, by U) error {
	return s.writer.Insert(ctx, record, by, s.requestOptions()...)
}

// InsertAll 批量插入
func (s *WriteService[T, K, U]) InsertAll(ctx context.Context, records []T, by U) error {
	return s.writer.InsertAll(ctx, records, by, s.requestOptions()...)
}

// UpdateMany 在一个事务中读取 ids 对应的记录，逐条执行 mutate 后一次性批量更新
//
// ids 为空时直接返回，不开启事务。不存在的主键被忽略。
func (s *WriteService[T, K, U]) UpdateMany(ctx context.Context, ids []K, mutate func(T) error, by U) error {
	if len(ids) == 0 {
		return nil
	}
	t, err := s.writer.BeginTransaction(ctx, s.txOptions)
	if err != nil {
		return err
	}
	return tx.CommitOrRollback(ctx, t, func(ctx context.Context) error {
		records, err := s.set.FindMany(ctx, ids)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := mutate(r); err != nil {
				return err
			}
		}
		_, err = s.writer.UpdateAll(ctx, records, by, s.requestOptions()...)
		return err
	}, tx.WithLogger(s.logger))
}

// Update 读取单条记录，执行 mutate 后更新；记录不存在时返回 NOT_FOUND，mutate 失败时不写入
func (s *WriteService[T, K, U]) Update(ctx context.Context, id K, mutate func(T) error, by U) (T, error) {
	var zero T
	record, err := s.find(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := mutate(record); err != nil {
		return zero, err
	}
	return s.writer.Update(ctx, record, by, s.requestOptions()...)
}

// Delete 按主键删除；记录不存在时返回 NOT_FOUND
func (s *WriteService[T, K, U]) Delete(ctx context.Context, id K, by U) error {
	record, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	return s.writer.Delete(ctx, record, by, s.requestOptions()...)
}

func (s *WriteService[T, K, U]) find(ctx context.Context, id K) (T, error) {
	record, ok, err := s.set.Find(ctx, id)
	if err != nil {
		return record, err
	}
	if !ok {
		return record, errors.NewNotFoundError("%s with id %v not found", validation.TypeName[T](), id)
	}
	return record, nil
}
