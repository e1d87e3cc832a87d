package writer

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gokeep/entity"
	"gokeep/errors"
	"gokeep/logging"
	"gokeep/notify"
	"gokeep/store"
	"gokeep/validation"
)

type request[T any] struct {
	validator validation.IValidator[T]
	cleaner   validation.ICleaner[T]
	at        time.Time
}

// RequestOption 单次请求选项
type RequestOption[T any] func(*request[T])

// WithValidator 本次请求使用的校验器
func WithValidator[T any](v validation.IValidator[T]) RequestOption[T] {
	return func(r *request[T]) { r.validator = v }
}

// WithCleaner 本次请求使用的清洗器
func WithCleaner[T any](c validation.ICleaner[T]) RequestOption[T] {
	return func(r *request[T]) { r.cleaner = c }
}

// WithTimestamp 指定钩子使用的时间戳，不再读取时钟
func WithTimestamp[T any](at time.Time) RequestOption[T] {
	return func(r *request[T]) { r.at = at }
}

// ExecuteRequest 对一批记录执行一次写操作
//
// 返回会话中跟踪的实例。任一步骤失败都不会进入提交；
// 校验失败只报告第一条未通过的记录。
func (w *Writer[T, K, U]) ExecuteRequest(ctx context.Context, op entity.Operation, records []T, by U, opts ...RequestOption[T]) (tracked []T, err error) {
	op.MustBeKnown()
	started := time.Now()

	r := request[T]{validator: w.validator, cleaner: w.cleaner}
	for _, opt := range opts {
		opt(&r)
	}

	// 固化批次，后续步骤不受调用方对原切片的修改影响
	batch := slices.Clone(records)

	ctx, span := w.tracer.Start(ctx, "gokeep.write."+op.String(),
		trace.WithAttributes(
			attribute.String("gokeep.record", w.record),
			attribute.String("gokeep.operation", op.String()),
			attribute.Int("gokeep.batch_size", len(batch)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(errors.GetErrorCode(err)))
		}
		span.End()
		w.metrics.ObserveRequest(w.record, op.String(), len(batch), time.Since(started), err)
		w.logResult(ctx, op, len(batch), err)
	}()

	at := r.at
	if at.IsZero() {
		at = w.clock.Now()
	}

	if err := w.prepare(ctx, op, batch, by, at, r.cleaner); err != nil {
		return nil, err
	}
	if err := validate(op, batch, r.validator); err != nil {
		return nil, err
	}
	tracked, err = w.operate(op, batch)
	if err != nil {
		return nil, err
	}
	if err := w.commit(ctx); err != nil {
		return nil, err
	}
	w.publish(ctx, op, tracked, by, at)
	return tracked, nil
}

// prepare 逐条执行清洗与提交前钩子；全部记录处理完后汇总钩子错误
func (w *Writer[T, K, U]) prepare(ctx context.Context, op entity.Operation, batch []T, by U, at time.Time, cleaner validation.ICleaner[T]) error {
	var errs []error
	for _, record := range batch {
		if cleaner != nil {
			cleaner.Clean(record, op)
		}
		state := w.session.State(record)
		if err := w.hooks.Run(ctx, record, op, state, by, at); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.CombineAll(errs...); err != nil {
		return errors.WrapError(err, errors.ErrCodeHook, "before-commit hooks failed")
	}
	return nil
}

func validate[T any](op entity.Operation, batch []T, v validation.IValidator[T]) error {
	if v == nil {
		return nil
	}
	for _, record := range batch {
		if outcome := v.GetErrors(record, op); outcome.HasErrors() {
			return outcome.Err()
		}
	}
	return nil
}

// operate 把每条记录交给会话；记录全部处理后再汇总错误。
// 有任一失败时撤销本批次对身份映射的全部修改，失败的批次不会留到下一次提交。
func (w *Writer[T, K, U]) operate(op entity.Operation, batch []T) ([]T, error) {
	sp := w.session.Savepoint()
	defer sp.Release()

	tracked := make([]T, len(batch))
	var errs []error
	for i, record := range batch {
		tracked[i] = record
		var err error
		switch op {
		case entity.Insert, entity.Update:
			intended := entity.Inserted
			if op == entity.Update {
				intended = entity.Modified
			}
			var t any
			if t, _, err = w.session.Reconcile(record, intended); err == nil {
				tracked[i] = t.(T)
			}
		case entity.Delete:
			err = w.session.Remove(record)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		sp.Rollback()
	}
	switch len(errs) {
	case 0:
		return tracked, nil
	case 1:
		return nil, errs[0]
	default:
		return nil, errors.CombineAll(errs...)
	}
}

// commit 保存会话；存储层字段校验失败翻译为 StoreCommitError
func (w *Writer[T, K, U]) commit(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "gokeep.commit",
		trace.WithAttributes(attribute.String("gokeep.backend", w.session.Backend().Name())))
	defer span.End()

	_, err := w.session.SaveChanges(ctx)
	w.metrics.ObserveCommit(w.session.Backend().Name(), err)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "commit failed")

	var failure *store.ValidationFailure
	if errors.As(err, &failure) {
		var fields []errors.FieldMessage
		for _, entry := range failure.Entries {
			for _, f := range entry.Fields {
				fields = append(fields, errors.FieldMessage{Field: f.Field, Message: f.Message})
			}
		}
		return errors.NewStoreCommitError(err, fields)
	}
	return errors.WrapDatabaseError(ctx, err, "save changes")
}

// publish 发布变更通知；失败只记录日志，不影响已完成的提交
func (w *Writer[T, K, U]) publish(ctx context.Context, op entity.Operation, tracked []T, by U, at time.Time) {
	if w.publisher == nil || len(tracked) == 0 {
		return
	}
	keys := make([]any, 0, len(tracked))
	for _, record := range tracked {
		if key, _, ok := entity.KeyOf(record); ok {
			keys = append(keys, key)
		}
	}
	notice := notify.NewChangeNotice(w.record, strings.ToLower(op.String()), keys, w.formatBy(by), at)
	if err := w.publisher.Publish(ctx, notice); err != nil {
		w.logger.Warn(ctx, "publish change notice failed",
			logging.String("notice", notice.ID),
			logging.Error(err))
	}
}

func (w *Writer[T, K, U]) logResult(ctx context.Context, op entity.Operation, n int, err error) {
	if err != nil {
		w.logger.Warn(ctx, "write request failed",
			logging.String("operation", op.String()),
			logging.Int("records", n),
			logging.String("code", string(errors.GetErrorCode(err))),
			logging.Error(err))
		return
	}
	w.logger.Debug(ctx, "write request committed",
		logging.String("operation", op.String()),
		logging.Int("records", n))
}
