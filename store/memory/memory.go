// Package memory 提供事务化的内存存储后端
//
// 记录以副本形式保存，关联集合保存为子记录主键列表；开启事务时对全部表做快照，
// 回滚即恢复快照。适用于测试与示例，也可作为嵌入式场景的轻量后端。
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"

	"gokeep/entity"
	"gokeep/errors"
	"gokeep/keygen"
	"gokeep/logging"
	"gokeep/store"
)

// Constraint 针对单条记录的存储层约束，返回被拒绝的字段
type Constraint func(record any) []store.FieldError

// Registration 单个记录类型的存储配置
type Registration struct {
	// Type 记录指针类型
	Type reflect.Type
	// SoftDelete 为 true 时删除以更新形式持久化，加载时过滤已软删除记录
	SoftDelete bool
	// Unique 需要唯一的字段名
	Unique []string
	// Constraints 额外约束
	Constraints []Constraint
}

// Option 存储选项
type Option func(*Store)

// WithKeyGenerator 指定主键生成器，默认按 1、2、3... 递增
func WithKeyGenerator(g keygen.IGenerator) Option {
	return func(s *Store) { s.keys = g }
}

// WithLogger 指定日志
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store 内存后端，并发安全；同一时刻最多一个事务
type Store struct {
	mu       sync.Mutex
	keys     keygen.IGenerator
	logger   logging.Logger
	tables   map[reflect.Type]*table
	snapshot map[reflect.Type]*table
	inTx     bool
}

type row struct {
	record   any
	children map[string][]any
}

type table struct {
	reg   Registration
	meta  *entity.Meta
	rows  map[any]*row
	order []any
}

func (t *table) clone() *table {
	cp := &table{reg: t.reg, meta: t.meta, rows: make(map[any]*row, len(t.rows)), order: append([]any(nil), t.order...)}
	for k, r := range t.rows {
		cp.rows[k] = r
	}
	return cp
}

func (t *table) put(key any, r *row) {
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = r
}

func (t *table) remove(key any) {
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *table) visible(r *row) bool {
	if !t.reg.SoftDelete {
		return true
	}
	sd, ok := r.record.(entity.ISoftDeletable)
	return !ok || !sd.IsDeleted()
}

// New 创建内存后端
func New(opts ...Option) *Store {
	s := &Store{
		keys:   &keygen.Sequence{},
		tables: make(map[reflect.Type]*table),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.ComponentLogger(nil, "store.memory")
	}
	return s
}

// Register 注册记录类型；未注册的类型在首次使用时按默认配置注册
func (s *Store) Register(regs ...Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range regs {
		if _, err := s.registerLocked(s.tables, reg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) registerLocked(tables map[reflect.Type]*table, reg Registration) (*table, error) {
	meta, err := entity.Describe(reg.Type)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "register record type")
	}
	if meta.Key == nil {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "%s has no key field", meta.Type)
	}
	for _, name := range reg.Unique {
		if _, ok := meta.Type.Elem().FieldByName(name); !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "%s has no field %s", meta.Type, name)
		}
	}
	reg.Type = meta.Type
	t := &table{reg: reg, meta: meta, rows: make(map[any]*row)}
	if existing, ok := tables[meta.Type]; ok {
		t.rows, t.order = existing.rows, existing.order
	}
	tables[meta.Type] = t
	return t, nil
}

func (s *Store) tableLocked(tables map[reflect.Type]*table, recordType reflect.Type) (*table, error) {
	if recordType.Kind() == reflect.Struct {
		recordType = reflect.PointerTo(recordType)
	}
	if t, ok := tables[recordType]; ok {
		return t, nil
	}
	return s.registerLocked(tables, Registration{Type: recordType})
}

func (s *Store) Name() string { return "memory" }

// Load 实现 store.IBackend
func (s *Store) Load(ctx context.Context, recordType reflect.Type, keys []any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tableLocked(s.tables, recordType)
	if err != nil {
		return nil, err
	}
	memo := make(map[memoKey]any)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		r, ok := t.rows[k]
		if !ok || !t.visible(r) {
			continue
		}
		rec, err := s.materializeLocked(t, k, r, memo)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadAll 实现 store.IBackend，按插入顺序返回
func (s *Store) LoadAll(ctx context.Context, recordType reflect.Type) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tableLocked(s.tables, recordType)
	if err != nil {
		return nil, err
	}
	memo := make(map[memoKey]any)
	out := make([]any, 0, len(t.order))
	for _, k := range t.order {
		r := t.rows[k]
		if !t.visible(r) {
			continue
		}
		rec, err := s.materializeLocked(t, k, r, memo)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type memoKey struct {
	typ reflect.Type
	key any
}

// materializeLocked 复制存储的记录并解析关联；memo 保证同一次加载中同一主键只有一个实例
func (s *Store) materializeLocked(t *table, key any, r *row, memo map[memoKey]any) (any, error) {
	mk := memoKey{typ: t.meta.Type, key: key}
	if rec, ok := memo[mk]; ok {
		return rec, nil
	}
	rec, err := entity.Clone(r.record)
	if err != nil {
		return nil, err
	}
	memo[mk] = rec

	for _, a := range t.meta.Associations {
		ct, err := s.tableLocked(s.tables, a.Elem)
		if err != nil {
			return nil, err
		}
		var children []any
		for _, ck := range r.children[a.Name] {
			cr, ok := ct.rows[ck]
			if !ok || !ct.visible(cr) {
				continue
			}
			child, err := s.materializeLocked(ct, ck, cr, memo)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		entity.SetChildren(rec, a, children)
	}
	return rec, nil
}

// Apply 实现 store.IBackend：在暂存副本上执行全部变更，校验通过后整体替换
func (s *Store) Apply(ctx context.Context, cs *store.ChangeSet) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unkeyed := cs.Unkeyed()
	defer func() {
		if err != nil {
			store.ResetKeys(unkeyed)
		}
	}()

	staged := make(map[reflect.Type]*table, len(s.tables))
	for typ, t := range s.tables {
		staged[typ] = t.clone()
	}

	failure := &store.ValidationFailure{}
	touched := make(map[reflect.Type]bool)
	var pending []pendingCheck

	for _, c := range cs.Changes {
		t, err := s.tableLocked(staged, reflect.TypeOf(c.Record))
		if err != nil {
			return err
		}
		touched[t.meta.Type] = true

		keyed, ok := c.Record.(entity.IKeyed)
		if !ok {
			return errors.Newf(errors.ErrCodeInvalidInput, "%T does not expose a key", c.Record)
		}

		switch c.State {
		case entity.Inserted:
			if keyed.IsTransient() {
				if err := s.assignKey(t, c.Record); err != nil {
					return err
				}
			}
			key := keyed.KeyValue()
			if _, exists := t.rows[key]; exists {
				failure.Add(c.Record, store.FieldError{Field: t.meta.Key.Name, Message: fmt.Sprintf("duplicate key %v", key)})
				continue
			}
			r, err := snapshotRow(t.meta, c.Record)
			if err != nil {
				return err
			}
			t.put(key, r)
			pending = append(pending, pendingCheck{table: t, record: c.Record, row: r})

		case entity.Modified:
			key := keyed.KeyValue()
			if _, exists := t.rows[key]; !exists || keyed.IsTransient() {
				return errors.NewNotFoundError("%s with key %v does not exist", t.meta.Name, key)
			}
			r, err := snapshotRow(t.meta, c.Record)
			if err != nil {
				return err
			}
			t.put(key, r)
			pending = append(pending, pendingCheck{table: t, record: c.Record, row: r})

		case entity.Deleted:
			key := keyed.KeyValue()
			if _, exists := t.rows[key]; !exists {
				return errors.NewNotFoundError("%s with key %v does not exist", t.meta.Name, key)
			}
			if t.reg.SoftDelete {
				r, err := snapshotRow(t.meta, c.Record)
				if err != nil {
					return err
				}
				t.put(key, r)
				continue
			}
			t.remove(key)

		default:
			panic(errors.NewConfigurationError("change state", c.State))
		}
	}

	for _, p := range pending {
		failure.Add(p.record, s.checkLocked(staged, p)...)
	}
	for typ := range touched {
		t := staged[typ]
		for _, name := range t.reg.Unique {
			failure.Entries = append(failure.Entries, uniqueViolations(t, name)...)
		}
	}

	if err := failure.OrNil(); err != nil {
		s.logger.Debug(ctx, "change set rejected", logging.Int("entries", len(failure.Entries)))
		return err
	}

	s.tables = staged
	s.logger.Debug(ctx, "change set applied", logging.Int("changes", cs.Len()))
	return nil
}

type pendingCheck struct {
	table  *table
	record any
	row    *row
}

func (s *Store) assignKey(t *table, record any) error {
	assignable, ok := record.(entity.IKeyAssignable)
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "%T cannot accept a generated key", record)
	}
	keyType := entity.FieldByIndex(reflect.ValueOf(record), t.meta.Key.Index).Type()
	key, err := s.keys.NextKey(keyType)
	if err != nil {
		return err
	}
	return assignable.AssignKey(key)
}

// checkLocked 约束与外键检查
func (s *Store) checkLocked(staged map[reflect.Type]*table, p pendingCheck) []store.FieldError {
	var fields []store.FieldError
	for _, c := range p.table.reg.Constraints {
		fields = append(fields, c(p.record)...)
	}
	for _, a := range p.table.meta.Associations {
		ct, err := s.tableLocked(staged, a.Elem)
		if err != nil {
			fields = append(fields, store.FieldError{Field: a.Name, Message: err.Error()})
			continue
		}
		for _, ck := range p.row.children[a.Name] {
			if _, ok := ct.rows[ck]; !ok {
				fields = append(fields, store.FieldError{
					Field:   a.Name,
					Message: fmt.Sprintf("references missing %s %v", ct.meta.Name, ck),
				})
			}
		}
	}
	return fields
}

func uniqueViolations(t *table, field string) []store.EntryFailure {
	seen := make(map[any]any)
	var out []store.EntryFailure
	for _, k := range t.order {
		r := t.rows[k]
		if !t.visible(r) {
			continue
		}
		v := reflect.ValueOf(r.record).Elem().FieldByName(field).Interface()
		if _, dup := seen[v]; dup {
			out = append(out, store.EntryFailure{
				Record: r.record,
				Fields: []store.FieldError{{Field: field, Message: fmt.Sprintf("value %v is not unique", v)}},
			})
			continue
		}
		seen[v] = k
	}
	return out
}

// snapshotRow 复制记录标量字段，并把关联集合转换为主键列表
func snapshotRow(meta *entity.Meta, record any) (*row, error) {
	cp, err := entity.Clone(record)
	if err != nil {
		return nil, err
	}
	r := &row{record: cp, children: make(map[string][]any, len(meta.Associations))}
	for _, a := range meta.Associations {
		for _, child := range entity.Children(record, a) {
			key, _, ok := entity.KeyOf(child)
			if !ok {
				return nil, errors.Newf(errors.ErrCodeInvalidInput, "%T does not expose a key", child)
			}
			r.children[a.Name] = append(r.children[a.Name], key)
		}
		entity.SetChildren(cp, a, nil)
	}
	return r, nil
}

// Begin 实现 store.IBackend；隔离级别被忽略，事务内的读写都基于同一份数据
func (s *Store) Begin(ctx context.Context, opts *sql.TxOptions) (store.ITxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inTx {
		return nil, errors.NewError(errors.ErrCodeConflict, "memory store already has an open transaction")
	}
	s.snapshot = make(map[reflect.Type]*table, len(s.tables))
	for typ, t := range s.tables {
		s.snapshot[typ] = t.clone()
	}
	s.inTx = true
	if opts != nil {
		s.logger.Debug(ctx, "isolation level ignored", logging.String("isolation", opts.Isolation.String()))
	}
	return &txHandle{store: s}, nil
}

type txHandle struct {
	store *Store
	done  bool
}

func (h *txHandle) Commit(ctx context.Context) error {
	return h.end(func(s *Store) {})
}

func (h *txHandle) Rollback(ctx context.Context) error {
	return h.end(func(s *Store) { s.tables = s.snapshot })
}

func (h *txHandle) end(apply func(*Store)) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.done {
		return errors.NewError(errors.ErrCodeTransaction, "memory transaction already ended")
	}
	h.done = true
	apply(s)
	s.snapshot = nil
	s.inTx = false
	return nil
}

// Count 当前可见记录数（测试辅助）
func (s *Store) Count(recordType reflect.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(s.tables, recordType)
	if err != nil {
		return 0
	}
	n := 0
	for _, r := range t.rows {
		if t.visible(r) {
			n++
		}
	}
	return n
}
