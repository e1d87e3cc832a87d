// Package session 实现身份映射与记录合并
//
// 一个 Session 持有唯一的身份映射：同一 (具体类型, 主键) 在会话内至多对应一个实例。
// 写入管道把调用方传入的记录交给 Reconcile，由它决定是合并到已跟踪实例还是开始跟踪。
// Session 不做内部加锁，只能在单个 goroutine 中使用。
package session

import (
	"context"
	"database/sql"
	"reflect"

	"gokeep/entity"
	"gokeep/errors"
	"gokeep/logging"
	"gokeep/store"
)

// Option 会话选项
type Option func(*Session)

// WithLogger 指定日志
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session 工作单元：身份映射 + 变更跟踪
type Session struct {
	backend store.IBackend
	logger  logging.Logger

	entries map[identity]*entry
	order   []*entry

	// savepoint 活动的还原点，为 nil 时不记录变更前状态
	savepoint *Savepoint
}

// identity 身份映射的键；未分配主键的记录以引用作为键
type identity struct {
	typ reflect.Type
	key any
}

type reference struct {
	p uintptr
}

type entry struct {
	record any
	id     identity
	state  entity.State
}

// Entry 已跟踪记录的快照
type Entry struct {
	Record any
	State  entity.State
}

// New 基于后端创建会话
func New(backend store.IBackend, opts ...Option) *Session {
	s := &Session{
		backend: backend,
		entries: make(map[identity]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.ComponentLogger(nil, "session")
	}
	return s
}

// Backend 返回会话使用的后端
func (s *Session) Backend() store.IBackend {
	return s.backend
}

func identityOf(record any) (identity, error) {
	v := reflect.ValueOf(record)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return identity{}, errors.Newf(errors.ErrCodeInvalidInput, "record must be a non-nil pointer, got %T", record)
	}
	keyed, ok := record.(entity.IKeyed)
	if !ok {
		return identity{}, errors.Newf(errors.ErrCodeInvalidInput, "%T does not expose a key", record)
	}
	if keyed.IsTransient() {
		return identity{typ: v.Type(), key: reference{p: v.Pointer()}}, nil
	}
	return identity{typ: v.Type(), key: keyed.KeyValue()}, nil
}

func (s *Session) lookup(record any) (*entry, identity, error) {
	id, err := identityOf(record)
	if err != nil {
		return nil, id, err
	}
	return s.entries[id], id, nil
}

func (s *Session) track(record any, id identity, state entity.State) *entry {
	e := &entry{record: record, id: id, state: state}
	s.entries[id] = e
	s.order = append(s.order, e)
	return e
}

func (s *Session) untrack(e *entry) {
	delete(s.entries, e.id)
	e.state = entity.Detached
}

// Reconcile 把 incoming 纳入身份映射
//
//   - 带无跟踪标记的记录返回 *errors.UntrackedWriteError，身份映射不变；
//   - 已跟踪同一身份时，把 incoming 的字段值合并到已跟踪实例，intended 为 Modified 时
//     把 Unchanged 提升为 Modified，返回已跟踪实例与 true；
//   - 未跟踪时以 intended 状态开始跟踪 incoming，返回 incoming 与 false。
//     intended 只能是 Inserted 或 Modified，否则 panic。
func (s *Session) Reconcile(incoming any, intended entity.State) (tracked any, wasTracked bool, err error) {
	if entity.IsNoTracking(incoming) {
		return nil, false, errors.NewUntrackedWriteError(incoming)
	}
	e, id, err := s.lookup(incoming)
	if err != nil {
		return nil, false, err
	}

	if e != nil {
		s.remember(e)
		if err := entity.CopyFields(e.record, incoming); err != nil {
			return nil, false, errors.WrapError(err, errors.ErrCodeInternal, "merge record")
		}
		if intended == entity.Modified && e.state == entity.Unchanged {
			e.state = entity.Modified
		}
		return e.record, true, nil
	}

	switch intended {
	case entity.Inserted, entity.Modified:
		s.track(incoming, id, intended)
		return incoming, false, nil
	default:
		panic(errors.NewConfigurationError("reconcile state", intended))
	}
}

// AttachUnchanged 以 Unchanged 状态开始跟踪；同一身份已被跟踪时返回 CONFLICT
func (s *Session) AttachUnchanged(record any) error {
	if entity.IsNoTracking(record) {
		return errors.NewUntrackedWriteError(record)
	}
	e, id, err := s.lookup(record)
	if err != nil {
		return err
	}
	if e != nil {
		return errors.Newf(errors.ErrCodeConflict, "%s with key %v is already attached", id.typ.Elem().Name(), id.key)
	}
	s.track(record, id, entity.Unchanged)
	return nil
}

// Remove 标记删除
//
// 已跟踪且为 Inserted 的记录直接取消跟踪；其余已跟踪记录合并字段后标记为 Deleted；
// 未跟踪但已有主键的记录以 Deleted 状态开始跟踪；未分配主键的未跟踪记录返回 INVALID_INPUT。
func (s *Session) Remove(record any) error {
	if entity.IsNoTracking(record) {
		return errors.NewUntrackedWriteError(record)
	}
	e, id, err := s.lookup(record)
	if err != nil {
		return err
	}
	if e != nil {
		s.remember(e)
		if e.state == entity.Inserted {
			s.untrack(e)
			return nil
		}
		if err := entity.CopyFields(e.record, record); err != nil {
			return errors.WrapError(err, errors.ErrCodeInternal, "merge record")
		}
		e.state = entity.Deleted
		return nil
	}
	if _, ok := id.key.(reference); ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "cannot delete a %s that has no key", id.typ.Elem().Name())
	}
	s.track(record, id, entity.Deleted)
	return nil
}

// Detach 停止跟踪记录；记录未被跟踪时为空操作
func (s *Session) Detach(record any) {
	if e, _, err := s.lookup(record); err == nil && e != nil {
		s.remember(e)
		s.untrack(e)
	}
}

// State 记录的跟踪状态；未跟踪或无法识别时为 Detached
func (s *Session) State(record any) entity.State {
	e, _, err := s.lookup(record)
	if err != nil || e == nil {
		return entity.Detached
	}
	return e.state
}

// Tracked 返回与 record 同一身份的已跟踪实例
func (s *Session) Tracked(record any) (any, bool) {
	e, _, err := s.lookup(record)
	if err != nil || e == nil {
		return nil, false
	}
	return e.record, true
}

// Entries 按开始跟踪的顺序返回全部已跟踪记录
func (s *Session) Entries() []Entry {
	s.compact()
	out := make([]Entry, len(s.order))
	for i, e := range s.order {
		out[i] = Entry{Record: e.record, State: e.state}
	}
	return out
}

// HasChanges 是否存在待保存的变更
func (s *Session) HasChanges() bool {
	for _, e := range s.entries {
		switch e.state {
		case entity.Inserted, entity.Modified, entity.Deleted:
			return true
		}
	}
	return false
}

// Clear 清空身份映射
func (s *Session) Clear() {
	s.entries = make(map[identity]*entry)
	s.order = nil
	s.savepoint = nil
}

func (s *Session) compact() {
	live := s.order[:0]
	for _, e := range s.order {
		if e.state != entity.Detached {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(s.order); i++ {
		s.order[i] = nil
	}
	s.order = live
}

// adopt 把后端加载的记录纳入身份映射，返回会话内的实例
//
// 未跟踪的身份以 Unchanged 开始跟踪；已跟踪且为 Unchanged 的实例用加载到的值刷新；
// 带有未保存修改的实例保持原样。关联集合递归处理。
func (s *Session) adopt(record any) (any, error) {
	return s.adoptVisit(record, make(map[*entry]bool))
}

func (s *Session) adoptVisit(record any, visiting map[*entry]bool) (any, error) {
	e, id, err := s.lookup(record)
	if err != nil {
		return nil, err
	}
	switch {
	case e == nil:
		e = s.track(record, id, entity.Unchanged)
	case e.state != entity.Unchanged || visiting[e]:
		return e.record, nil
	}
	visiting[e] = true

	meta, err := entity.DescribeOf(record)
	if err != nil {
		return nil, err
	}
	for _, a := range meta.Associations {
		children := entity.Children(record, a)
		for i, c := range children {
			adopted, err := s.adoptVisit(c, visiting)
			if err != nil {
				return nil, err
			}
			children[i] = adopted
		}
		entity.SetChildren(record, a, children)
	}
	if e.record != record {
		if err := entity.CopyFields(e.record, record); err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInternal, "refresh record")
		}
	}
	return e.record, nil
}

// SaveChanges 把全部 Inserted、Modified、Deleted 记录作为一个变更集提交给后端
//
// 成功后 Inserted/Modified 变为 Unchanged，Deleted 停止跟踪，新分配的主键重新建立索引；
// 失败时跟踪状态保持不变。返回提交的变更条数。
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	s.compact()
	cs := &store.ChangeSet{}
	var pending []*entry
	for _, e := range s.order {
		switch e.state {
		case entity.Inserted, entity.Modified, entity.Deleted:
			cs.Changes = append(cs.Changes, store.Change{Record: e.record, State: e.state})
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if err := s.backend.Apply(ctx, cs); err != nil {
		s.logger.Debug(ctx, "save changes failed",
			logging.String("backend", s.backend.Name()),
			logging.Int("changes", cs.Len()),
			logging.Error(err))
		return 0, err
	}

	for _, e := range pending {
		if e.state == entity.Deleted {
			s.untrack(e)
			continue
		}
		e.state = entity.Unchanged
		if _, transient := e.id.key.(reference); transient {
			if id, err := identityOf(e.record); err == nil {
				delete(s.entries, e.id)
				e.id = id
				s.entries[id] = e
			}
		}
	}
	s.compact()

	s.logger.Debug(ctx, "changes saved",
		logging.String("backend", s.backend.Name()),
		logging.Int("inserted", cs.Count(entity.Inserted)),
		logging.Int("modified", cs.Count(entity.Modified)),
		logging.Int("deleted", cs.Count(entity.Deleted)))
	return cs.Len(), nil
}

// BeginTransaction 开启显式事务
func (s *Session) BeginTransaction(ctx context.Context, opts *sql.TxOptions) (store.ITransaction, error) {
	h, err := s.backend.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return store.NewTransaction(s.backend.Name(), h, s.logger, nil), nil
}
