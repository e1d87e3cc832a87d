// Package writer 实现写入管道
//
// 每次写请求依次经过：固化批次 → 确定时间戳 → 逐条清洗与钩子 → 校验 → 合并到会话 → 提交。
// 同一批记录共享一次提交，存储层要么全部接受，要么全部拒绝。
package writer

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gokeep/clock"
	"gokeep/entity"
	"gokeep/hooks"
	"gokeep/logging"
	"gokeep/metrics"
	"gokeep/notify"
	"gokeep/session"
	"gokeep/store"
	"gokeep/validation"
)

const tracerName = "gokeep/writer"

// Config 写入管道的协作者，零值字段使用默认实现
type Config[T any, U any] struct {
	// Clock 未在请求中指定时间戳时使用，默认 clock.System
	Clock clock.Clock
	// Hooks 提交前钩子链，nil 时使用 hooks.Default
	Hooks *hooks.Chain[U]
	// Validator 与 Cleaner 可在单次请求中覆盖
	Validator validation.IValidator[T]
	Cleaner   validation.ICleaner[T]
	Logger    logging.Logger
	Metrics   *metrics.Metrics
	// TracerProvider 默认使用全局 provider
	TracerProvider trace.TracerProvider
	// Publisher 提交成功后发布变更通知，nil 时不发布
	Publisher notify.IPublisher
	// FormatUser 把操作者转换为通知中的字符串，默认 fmt.Sprint
	FormatUser func(U) string
}

// Writer 某一记录类型的写入管道
//
// T 为记录指针类型，K 为主键类型，U 为操作者标识类型。
type Writer[T any, K comparable, U any] struct {
	session   *session.Session
	clock     clock.Clock
	hooks     hooks.Chain[U]
	validator validation.IValidator[T]
	cleaner   validation.ICleaner[T]
	logger    logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	publisher notify.IPublisher
	formatBy  func(U) string
	record    string
}

// New 创建写入管道
func New[T any, K comparable, U any](s *session.Session, cfg Config[T, U]) *Writer[T, K, U] {
	w := &Writer[T, K, U]{
		session:   s,
		clock:     cfg.Clock,
		hooks:     hooks.Default[U](),
		validator: cfg.Validator,
		cleaner:   cfg.Cleaner,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		formatBy:  cfg.FormatUser,
		record:    validation.TypeName[T](),
	}
	if cfg.Hooks != nil {
		w.hooks = *cfg.Hooks
	}
	if w.clock == nil {
		w.clock = clock.System{}
	}
	if w.logger == nil {
		w.logger = logging.ComponentLogger(nil, "writer")
	}
	w.logger = w.logger.WithFields(logging.String("record", w.record))
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	w.tracer = tp.Tracer(tracerName)
	if w.formatBy == nil {
		w.formatBy = func(u U) string { return fmt.Sprint(u) }
	}
	return w
}

// Session 返回管道使用的会话
func (w *Writer[T, K, U]) Session() *session.Session {
	return w.session
}

// Insert 插入单条记录
func (w *Writer[T, K, U]) Insert(ctx context.Context, record T, by U, opts ...RequestOption[T]) error {
	_, err := w.ExecuteRequest(ctx, entity.Insert, []T{record}, by, opts...)
	return err
}

// InsertAll 批量插入，全部记录共享一次提交
func (w *Writer[T, K, U]) InsertAll(ctx context.Context, records []T, by U, opts ...RequestOption[T]) error {
	_, err := w.ExecuteRequest(ctx, entity.Insert, records, by, opts...)
	return err
}

// Update 更新单条记录，返回会话中跟踪的实例
func (w *Writer[T, K, U]) Update(ctx context.Context, record T, by U, opts ...RequestOption[T]) (T, error) {
	tracked, err := w.ExecuteRequest(ctx, entity.Update, []T{record}, by, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return tracked[0], nil
}

// UpdateAll 批量更新，返回跟踪的实例（顺序与输入一致）
func (w *Writer[T, K, U]) UpdateAll(ctx context.Context, records []T, by U, opts ...RequestOption[T]) ([]T, error) {
	return w.ExecuteRequest(ctx, entity.Update, records, by, opts...)
}

// Delete 删除单条记录；记录支持软删除时由钩子打标记，存储层据此执行软删除
func (w *Writer[T, K, U]) Delete(ctx context.Context, record T, by U, opts ...RequestOption[T]) error {
	_, err := w.ExecuteRequest(ctx, entity.Delete, []T{record}, by, opts...)
	return err
}

// DeleteAll 批量删除
func (w *Writer[T, K, U]) DeleteAll(ctx context.Context, records []T, by U, opts ...RequestOption[T]) error {
	_, err := w.ExecuteRequest(ctx, entity.Delete, records, by, opts...)
	return err
}

// AttachUnchanged 以 Unchanged 状态附加记录，不经过管道
func (w *Writer[T, K, U]) AttachUnchanged(record T) error {
	return w.session.AttachUnchanged(record)
}

// BeginTransaction 在会话后端上开启事务
func (w *Writer[T, K, U]) BeginTransaction(ctx context.Context, opts *sql.TxOptions) (store.ITransaction, error) {
	return w.session.BeginTransaction(ctx, opts)
}
