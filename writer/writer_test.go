package writer

import (
	"context"
	stdErrors "errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"gokeep/clock"
	"gokeep/entity"
	"gokeep/errors"
	"gokeep/hooks"
	"gokeep/logging"
	"gokeep/metrics"
	"gokeep/notify"
	"gokeep/session"
	"gokeep/store"
	"gokeep/store/memory"
	"gokeep/validation"
)

type Widget struct {
	entity.Audited[int64, string]
	Name string
	SKU  string
}

type Note struct {
	entity.Entity[int64]
	Text string
}

var (
	widgetType = reflect.TypeOf(&Widget{})
	noteType   = reflect.TypeOf(&Note{})
	now        = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

type fixture struct {
	backend  *memory.Store
	session  *session.Session
	writer   *Writer[*Widget, int64, string]
	spans    *tracetest.SpanRecorder
	notices  *notify.Recorder
	registry *prometheus.Registry
}

func newFixture(t *testing.T, regs ...memory.Registration) *fixture {
	t.Helper()
	backend := memory.New(memory.WithLogger(logging.NewNoopLogger()))
	require.NoError(t, backend.Register(regs...))

	f := &fixture{
		backend:  backend,
		session:  session.New(backend, session.WithLogger(logging.NewNoopLogger())),
		spans:    tracetest.NewSpanRecorder(),
		notices:  &notify.Recorder{},
		registry: prometheus.NewRegistry(),
	}
	f.writer = New[*Widget, int64](f.session, Config[*Widget, string]{
		Clock:          clock.NewManual(now),
		Logger:         logging.NewNoopLogger(),
		Metrics:        metrics.MustNew(f.registry),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans)),
		Publisher:      f.notices,
	})
	return f
}

func nameRequired() validation.Validator[*Widget] {
	return validation.Validator[*Widget]{
		UpdateChecks: func(w *Widget) []string {
			if w.Name == "" {
				return []string{validation.RequiredMessage("Name")}
			}
			return nil
		},
	}
}

// TestInsert 插入填充审计字段、分配主键并发布通知
func TestInsert(t *testing.T) {
	f := newFixture(t)
	w := &Widget{Name: "bolt"}

	require.NoError(t, f.writer.Insert(context.Background(), w, "alice"))

	assert.Equal(t, int64(1), w.ID)
	assert.Equal(t, "alice", w.CreatedBy)
	assert.Equal(t, now, w.CreatedAt)
	assert.Empty(t, w.ModifiedBy)
	assert.Equal(t, entity.Unchanged, f.session.State(w))
	assert.Equal(t, 1, f.backend.Count(widgetType))

	notices := f.notices.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Widget", notices[0].Record)
	assert.Equal(t, "insert", notices[0].Operation)
	assert.Equal(t, []any{int64(1)}, notices[0].Keys)
	assert.Equal(t, "alice", notices[0].By)

	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"gokeep.write.Insert", "gokeep.commit"}, names)
}

// TestInsertAll_FirstValidationFailureOnly 批量中只报告第一条未通过校验的记录，且不提交任何记录
func TestInsertAll_FirstValidationFailureOnly(t *testing.T) {
	f := newFixture(t)
	batch := []*Widget{{Name: "ok"}, {SKU: "first-bad"}, {SKU: "second-bad"}}

	err := f.writer.InsertAll(context.Background(), batch, "alice", WithValidator[*Widget](nameRequired()))

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Same(t, batch[1], verr.Record)
	assert.Equal(t, "The following errors occurred when trying to Insert 'Widget':\nName is required.", verr.Message())
	assert.Equal(t, 0, f.backend.Count(widgetType))
	assert.Empty(t, f.session.Entries(), "校验失败时不合并任何记录")
	assert.Empty(t, f.notices.Notices())
}

// TestInsertAll_Materialized 批次在管道开始时固化
func TestInsertAll_Materialized(t *testing.T) {
	f := newFixture(t)
	batch := []*Widget{{Name: "a"}, {Name: "b"}}

	cleaner := validation.CleanerFunc[*Widget](func(w *Widget, op entity.Operation) {
		batch[1] = &Widget{Name: "swapped"}
		w.Name = strings.ToUpper(w.Name)
	})
	require.NoError(t, f.writer.InsertAll(context.Background(), batch, "alice", WithCleaner[*Widget](cleaner)))

	all, err := session.SetOf[*Widget, int64](f.session).All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, "B", all[1].Name)
}

// TestUpdate_MergesIntoTracked 更新另一实例时合并到已跟踪实例
func TestUpdate_MergesIntoTracked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := &Widget{Name: "bolt"}
	require.NoError(t, f.writer.Insert(ctx, original, "alice"))

	detached := &Widget{Name: "nut"}
	detached.ID = original.ID
	detached.CreatedBy, detached.CreatedAt = original.CreatedBy, original.CreatedAt

	later := now.Add(time.Hour)
	tracked, err := f.writer.Update(ctx, detached, "bob", WithTimestamp[*Widget](later))
	require.NoError(t, err)
	assert.Same(t, original, tracked)
	assert.Equal(t, "nut", original.Name)
	assert.Equal(t, "bob", original.ModifiedBy)
	assert.Equal(t, later, original.ModifiedAt)
	assert.Equal(t, "alice", original.CreatedBy)

	stored, err := f.backend.Load(ctx, widgetType, []any{original.ID})
	require.NoError(t, err)
	assert.Equal(t, "nut", stored[0].(*Widget).Name)
}

// TestUpdate_UntrackedWrite 无跟踪读取的记录不能写回
func TestUpdate_UntrackedWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.writer.Insert(ctx, &Widget{Name: "bolt"}, "alice"))
	f.session.Clear()

	readOnly, ok, err := session.SetOf[*Widget, int64](f.session).FindNoTracking(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	readOnly.Name = "changed"

	_, err = f.writer.Update(ctx, readOnly, "bob")
	assert.True(t, errors.IsUntrackedWrite(err))
	assert.Empty(t, f.session.Entries())

	stored, err := f.backend.Load(ctx, widgetType, []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "bolt", stored[0].(*Widget).Name)
}

// TestDelete_Soft 支持软删除的记录由钩子打标记后在存储中隐藏
func TestDelete_Soft(t *testing.T) {
	f := newFixture(t, memory.Registration{Type: widgetType, SoftDelete: true})
	ctx := context.Background()
	w := &Widget{Name: "bolt"}
	require.NoError(t, f.writer.Insert(ctx, w, "alice"))

	require.NoError(t, f.writer.Delete(ctx, w, "carol"))
	assert.True(t, w.Deleted)
	assert.Equal(t, "carol", w.DeletedBy)
	require.NotNil(t, w.DeletedAt)
	assert.Equal(t, 0, f.backend.Count(widgetType))
	assert.Equal(t, entity.Detached, f.session.State(w))
}

// TestDelete_Hard 没有软删除能力的记录直接删除
func TestDelete_Hard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notes := New[*Note, int64](f.session, Config[*Note, string]{Logger: logging.NewNoopLogger()})
	a, b := &Note{Text: "a"}, &Note{Text: "b"}
	require.NoError(t, notes.InsertAll(ctx, []*Note{a, b}, "alice"))

	require.NoError(t, notes.DeleteAll(ctx, []*Note{a, b}, "alice"))
	assert.Equal(t, 0, f.backend.Count(noteType))

	missing := &Note{}
	missing.ID = 404
	err := notes.Delete(ctx, missing, "alice")
	assert.True(t, errors.IsNotFound(err))
}

// TestCommit_StoreValidationTranslated 存储层字段校验失败翻译为逐字段消息
func TestCommit_StoreValidationTranslated(t *testing.T) {
	f := newFixture(t, memory.Registration{
		Type:   widgetType,
		Unique: []string{"SKU"},
		Constraints: []memory.Constraint{func(record any) []store.FieldError {
			if record.(*Widget).Name == "" {
				return []store.FieldError{{Field: "Name", Message: "NOT NULL constraint failed"}}
			}
			return nil
		}},
	})

	err := f.writer.Insert(context.Background(), &Widget{SKU: "x"}, "alice")

	var serr *errors.StoreCommitError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "the following fields did not validate:\nName: NOT NULL constraint failed", serr.Message())
	assert.True(t, errors.IsStoreCommit(err))
	assert.NotContains(t, err.Error(), "store rejected")
	var failure *store.ValidationFailure
	assert.True(t, errors.As(err, &failure), "原始存储错误仍可经 Unwrap 获取")
	assert.Empty(t, f.notices.Notices())
}

// TestInsertAll_FailedBatchLeavesNothingBehind 批次中一条记录失败时，其余记录不会留给下一次提交
func TestInsertAll_FailedBatchLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := &Widget{Name: "good"}
	stale := &Widget{Name: "stale"}
	stale.ID = 5
	stale.MarkNoTracking()

	err := f.writer.InsertAll(ctx, []*Widget{good, stale}, "alice")
	assert.True(t, errors.IsUntrackedWrite(err))
	assert.Equal(t, entity.Detached, f.session.State(good))
	assert.False(t, f.session.HasChanges())

	require.NoError(t, f.writer.Insert(ctx, &Widget{Name: "other"}, "alice"))
	assert.Equal(t, 1, f.backend.Count(widgetType))
}

// TestUpdateAll_FailedBatchRestoresTracked 失败批次合并到已跟踪实例的值与状态被撤销
func TestUpdateAll_FailedBatchRestoresTracked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := &Widget{Name: "bolt"}
	require.NoError(t, f.writer.Insert(ctx, w, "alice"))

	changed := &Widget{Name: "nut"}
	changed.ID = w.ID
	stale := &Widget{}
	stale.ID = 9
	stale.MarkNoTracking()

	_, err := f.writer.UpdateAll(ctx, []*Widget{changed, stale}, "bob")
	assert.True(t, errors.IsUntrackedWrite(err))
	assert.Equal(t, "bolt", w.Name)
	assert.Equal(t, entity.Unchanged, f.session.State(w))
	assert.False(t, f.session.HasChanges())
}

// TestHooks_FailuresAggregated 全部钩子都会执行，失败时不进入校验与提交
func TestHooks_FailuresAggregated(t *testing.T) {
	calls := 0
	failing := func(ctx context.Context, record any, op entity.Operation, state entity.State, by string, at time.Time) error {
		calls++
		return stdErrors.New("hook failed")
	}
	chain := hooks.New[string](failing, failing)
	f := newFixture(t)
	w := New[*Widget, int64](f.session, Config[*Widget, string]{Hooks: &chain, Logger: logging.NewNoopLogger()})

	err := w.InsertAll(context.Background(), []*Widget{{Name: "a"}, {Name: "b"}}, "alice")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeHook))
	assert.Equal(t, 4, calls)

	var multi *errors.MultiError
	require.True(t, errors.As(err, &multi))
	assert.Len(t, multi.Errors, 2)
	assert.Equal(t, 0, f.backend.Count(widgetType))
}

// TestMetrics 请求与提交均被计数
func TestMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.writer.Insert(ctx, &Widget{Name: "a"}, "alice"))
	_ = f.writer.Insert(ctx, &Widget{}, "alice", WithValidator[*Widget](nameRequired()))

	families, err := f.registry.Gather()
	require.NoError(t, err)
	counts := map[string]int{}
	for _, mf := range families {
		counts[mf.GetName()] = len(mf.GetMetric())
	}
	assert.Equal(t, 2, counts["gokeep_writer_requests_total"], "成功与失败各一个标签组合")
	assert.Equal(t, 1, counts["gokeep_session_commits_total"])
}

// TestUnknownOperation 未知操作是配置错误
func TestUnknownOperation(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() {
		_, _ = f.writer.ExecuteRequest(context.Background(), entity.Operation(42), nil, "alice")
	})
}
