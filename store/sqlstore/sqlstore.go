// Package sqlstore 基于 database/sql 的持久化后端
//
// 每个记录类型映射到一张表，主键列取自 ID 字段，其余标量字段按 db/json 标签或
// snake_case 命名映射为列。关联集合通过连接表保存。支持 sqlite（modernc.org/sqlite）
// 与 postgres（pgx stdlib）。
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"

	"gokeep/cache"
	core "gokeep/data/db"
	"gokeep/data/db/dialect"
	dbsql "gokeep/data/db/sql"
	"gokeep/entity"
	"gokeep/errors"
	"gokeep/keygen"
	"gokeep/logging"
	"gokeep/store"
)

const savepoint = "gokeep_apply"

// Option 存储选项
type Option func(*Store)

// WithKeyGenerator 指定主键生成器
func WithKeyGenerator(g keygen.IGenerator) Option {
	return func(s *Store) { s.keys = g }
}

// WithLogger 指定日志
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store SQL 后端
type Store struct {
	db      core.IDatabase
	dialect dialect.Dialect
	keys    keygen.IGenerator
	logger  logging.Logger

	mu       sync.Mutex
	mappings map[reflect.Type]*resolved
	active   core.ITransaction

	// selectAll 每个类型的全表查询语句
	selectAll *cache.Cache[reflect.Type, string]
}

// New 创建 SQL 后端；未指定主键生成器时使用雪花算法
func New(db core.IDatabase, opts ...Option) (*Store, error) {
	s := &Store{
		db:        db,
		dialect:   dialect.FromDatabase(db),
		mappings:  make(map[reflect.Type]*resolved),
		selectAll: cache.New[reflect.Type, string](cache.Config{Name: "sqlstore_select_all", MaxSize: 256}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keys == nil {
		g, err := keygen.NewDefault(1, 1)
		if err != nil {
			return nil, err
		}
		s.keys = g
	}
	if s.logger == nil {
		s.logger = logging.ComponentLogger(nil, "store.sql")
	}
	return s, nil
}

// Map 注册类型映射；未注册的类型首次使用时按默认表名映射
func (s *Store) Map(mappings ...Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mappings {
		r, err := resolve(m)
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeInvalidInput, "map record type")
		}
		s.mappings[r.meta.Type] = r
		s.selectAll.Delete(r.meta.Type)
	}
	return nil
}

func (s *Store) mapping(recordType reflect.Type) (*resolved, error) {
	if recordType.Kind() == reflect.Struct {
		recordType = reflect.PointerTo(recordType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.mappings[recordType]; ok {
		return r, nil
	}
	r, err := resolve(Mapping{Type: recordType})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "map record type")
	}
	s.mappings[recordType] = r
	return r, nil
}

// conn 当前执行目标：活动事务或连接池
func (s *Store) conn() (core.IDatabase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return s.active, true
	}
	return s.db, false
}

func (s *Store) Name() string { return "sql:" + string(s.dialect.Name()) }

// Load 实现 store.IBackend
func (s *Store) Load(ctx context.Context, recordType reflect.Type, keys []any) ([]any, error) {
	r, err := s.mapping(recordType)
	if err != nil {
		return nil, err
	}
	q, _ := s.conn()
	return s.load(ctx, q, r, keys, make(map[memoKey]any))
}

// LoadAll 实现 store.IBackend，按主键排序
func (s *Store) LoadAll(ctx context.Context, recordType reflect.Type) ([]any, error) {
	r, err := s.mapping(recordType)
	if err != nil {
		return nil, err
	}
	q, _ := s.conn()
	query, err := s.selectAll.GetOrLoad(r.meta.Type, func(reflect.Type) (string, error) {
		b := dbsql.New(q).Select(r.meta.Columns()...).From(r.Table)
		if r.SoftDeleteColumn != "" {
			b = b.Where(dbsql.Eq(s.dialect, r.SoftDeleteColumn), false)
		}
		query, _ := b.OrderBy(r.meta.Key.Column).Build()
		return query, nil
	})
	if err != nil {
		return nil, err
	}
	var args []any
	if r.SoftDeleteColumn != "" {
		args = append(args, false)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "load all "+r.Table)
	}
	return s.scanAndResolve(ctx, q, r, rows, make(map[memoKey]any))
}

type memoKey struct {
	typ reflect.Type
	key any
}

func (s *Store) load(ctx context.Context, q core.IDatabase, r *resolved, keys []any, memo map[memoKey]any) ([]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	b := dbsql.New(q).Select(r.meta.Columns()...).From(r.Table).WhereIn(r.meta.Key.Column, keys)
	if r.SoftDeleteColumn != "" {
		b = b.Where(dbsql.Eq(s.dialect, r.SoftDeleteColumn), false)
	}
	rows, err := b.OrderBy(r.meta.Key.Column).Query(ctx)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "load "+r.Table)
	}
	return s.scanAndResolve(ctx, q, r, rows, memo)
}

func (s *Store) scanAndResolve(ctx context.Context, q core.IDatabase, r *resolved, rows core.IRows, memo map[memoKey]any) ([]any, error) {
	var out []any
	err := func() error {
		defer rows.Close()
		for rows.Next() {
			rec := entity.New(r.meta.Type)
			v := reflect.ValueOf(rec)
			dest := make([]any, len(r.meta.Fields))
			for i, f := range r.meta.Fields {
				dest[i] = entity.FieldByIndex(v, f.Index).Addr().Interface()
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "scan "+r.Table)
	}

	// 同一次加载中已出现的主键复用同一实例
	for i, rec := range out {
		mk := memoKey{typ: r.meta.Type, key: rec.(entity.IKeyed).KeyValue()}
		if seen, ok := memo[mk]; ok {
			out[i] = seen
			continue
		}
		memo[mk] = rec
	}

	for _, a := range r.assocs {
		if err := s.resolveAssociation(ctx, q, r, a, out, memo); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) resolveAssociation(ctx context.Context, q core.IDatabase, r *resolved, a resolvedAssociation, owners []any, memo map[memoKey]any) error {
	if len(owners) == 0 {
		return nil
	}
	ownerKeys := make([]any, len(owners))
	for i, o := range owners {
		ownerKeys[i] = o.(entity.IKeyed).KeyValue()
	}

	rows, err := dbsql.New(q).Select(a.OwnerColumn, a.TargetColumn).From(a.JoinTable).
		WhereIn(a.OwnerColumn, ownerKeys).OrderBy(a.TargetColumn).Query(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "load association "+a.JoinTable)
	}

	ownerType := keyType(r.meta)
	child, err := s.mapping(a.assoc.Elem)
	if err != nil {
		return err
	}
	targetType := keyType(child.meta)

	links := make(map[any][]any)
	var targets []any
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			ownerKey := reflect.New(ownerType)
			targetKey := reflect.New(targetType)
			if err := rows.Scan(ownerKey.Interface(), targetKey.Interface()); err != nil {
				return err
			}
			owner, tk := ownerKey.Elem().Interface(), targetKey.Elem().Interface()
			links[owner] = append(links[owner], tk)
			targets = append(targets, tk)
		}
		return rows.Err()
	}()
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "scan association "+a.JoinTable)
	}

	var missing []any
	for _, k := range targets {
		if _, ok := memo[memoKey{typ: child.meta.Type, key: k}]; !ok {
			missing = append(missing, k)
		}
	}
	if _, err := s.load(ctx, q, child, dedupe(missing), memo); err != nil {
		return err
	}

	for _, o := range owners {
		var children []any
		for _, tk := range links[o.(entity.IKeyed).KeyValue()] {
			if c, ok := memo[memoKey{typ: child.meta.Type, key: tk}]; ok {
				children = append(children, c)
			}
		}
		entity.SetChildren(o, a.assoc, children)
	}
	return nil
}

func keyType(meta *entity.Meta) reflect.Type {
	t := meta.Type.Elem()
	return t.FieldByIndex(meta.Key.Index).Type
}

func dedupe(keys []any) []any {
	seen := make(map[any]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Apply 实现 store.IBackend
//
// 无活动事务时在独立事务中执行；有活动事务时用保存点保证整批原子性。
func (s *Store) Apply(ctx context.Context, cs *store.ChangeSet) (err error) {
	if cs.Len() == 0 {
		return nil
	}
	unkeyed := cs.Unkeyed()
	defer func() {
		if err != nil {
			store.ResetKeys(unkeyed)
		}
	}()
	q, inTx := s.conn()

	if inTx {
		if _, err := q.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return errors.WrapDatabaseError(ctx, err, "savepoint")
		}
		defer func() {
			stmt := "RELEASE SAVEPOINT " + savepoint
			if err != nil {
				stmt = "ROLLBACK TO SAVEPOINT " + savepoint
			}
			if _, spErr := q.Exec(ctx, stmt); spErr != nil && err == nil {
				err = errors.WrapDatabaseError(ctx, spErr, "release savepoint")
			}
		}()
		return s.applyAll(ctx, q, cs)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "begin")
	}
	if err := s.applyAll(ctx, tx, cs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapDatabaseError(ctx, err, "commit")
	}
	return nil
}

func (s *Store) applyAll(ctx context.Context, q core.IDatabase, cs *store.ChangeSet) error {
	for _, c := range cs.Changes {
		r, err := s.mapping(reflect.TypeOf(c.Record))
		if err != nil {
			return err
		}
		if err := s.applyOne(ctx, q, r, c); err != nil {
			return s.translate(ctx, r, c.Record, err)
		}
	}
	s.logger.Debug(ctx, "change set applied", logging.Int("changes", cs.Len()))
	return nil
}

// translate 约束违例转换为字段级拒绝，其余错误原样返回
func (s *Store) translate(ctx context.Context, r *resolved, record any, err error) error {
	v, ok := s.dialect.ClassifyViolation(err)
	if !ok {
		return err
	}
	failure := &store.ValidationFailure{}
	field := r.fieldName(v.Target)
	if v.Target == "" {
		field = r.meta.Name
	}
	failure.Add(record, store.FieldError{Field: field, Message: v.Message})
	s.logger.Debug(ctx, "constraint violation",
		logging.String("table", r.Table),
		logging.String("kind", string(v.Kind)),
		logging.String("target", v.Target))
	return failure
}

func (s *Store) applyOne(ctx context.Context, q core.IDatabase, r *resolved, c store.Change) error {
	keyed, ok := c.Record.(entity.IKeyed)
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "%T does not expose a key", c.Record)
	}
	b := dbsql.New(q)

	switch c.State {
	case entity.Inserted:
		if keyed.IsTransient() {
			if err := s.assignKey(r, c.Record); err != nil {
				return err
			}
		}
		cols, vals := s.columnValues(r, c.Record, true)
		if _, err := b.InsertInto(r.Table).Columns(cols...).Values(vals...).Exec(ctx); err != nil {
			return err
		}
		return s.writeLinks(ctx, q, r, c.Record, false)

	case entity.Modified:
		if err := s.update(ctx, q, r, c.Record, false); err != nil {
			return err
		}
		return s.writeLinks(ctx, q, r, c.Record, true)

	case entity.Deleted:
		if r.SoftDeleteColumn != "" {
			return s.update(ctx, q, r, c.Record, true)
		}
		for _, a := range r.assocs {
			if _, err := b.DeleteFrom(a.JoinTable).Where(dbsql.Eq(s.dialect, a.OwnerColumn), keyed.KeyValue()).Exec(ctx); err != nil {
				return err
			}
		}
		res, err := b.DeleteFrom(r.Table).Where(dbsql.Eq(s.dialect, r.meta.Key.Column), keyed.KeyValue()).Exec(ctx)
		if err != nil {
			return err
		}
		return requireAffected(res, r, keyed.KeyValue())

	default:
		panic(errors.NewConfigurationError("change state", c.State))
	}
}

func (s *Store) update(ctx context.Context, q core.IDatabase, r *resolved, record any, softDelete bool) error {
	key := record.(entity.IKeyed).KeyValue()
	u := dbsql.New(q).Update(r.Table)
	cols, vals := s.columnValues(r, record, false)
	for i, col := range cols {
		if softDelete && col == r.SoftDeleteColumn {
			continue
		}
		u = u.Set(col, vals[i])
	}
	if softDelete {
		u = u.Set(r.SoftDeleteColumn, true)
	}
	res, err := u.Where(dbsql.Eq(s.dialect, r.meta.Key.Column), key).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, r, key)
}

func requireAffected(res sql.Result, r *resolved, key any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFoundError("%s with key %v does not exist", r.meta.Name, key)
	}
	return nil
}

// columnValues 按列顺序读取字段值；withKey 为 false 时跳过主键列
func (s *Store) columnValues(r *resolved, record any, withKey bool) ([]string, []any) {
	v := reflect.ValueOf(record)
	cols := make([]string, 0, len(r.meta.Fields))
	vals := make([]any, 0, len(r.meta.Fields))
	for _, f := range r.meta.Fields {
		if !withKey && f.Column == r.meta.Key.Column {
			continue
		}
		cols = append(cols, f.Column)
		vals = append(vals, entity.FieldByIndex(v, f.Index).Interface())
	}
	return cols, vals
}

// writeLinks 重写连接表中该记录的全部关联
func (s *Store) writeLinks(ctx context.Context, q core.IDatabase, r *resolved, record any, replace bool) error {
	owner := record.(entity.IKeyed).KeyValue()
	b := dbsql.New(q)
	for _, a := range r.assocs {
		if replace {
			if _, err := b.DeleteFrom(a.JoinTable).Where(dbsql.Eq(s.dialect, a.OwnerColumn), owner).Exec(ctx); err != nil {
				return err
			}
		}
		children := entity.Children(record, a.assoc)
		if len(children) == 0 {
			continue
		}
		ins := b.InsertInto(a.JoinTable).Columns(a.OwnerColumn, a.TargetColumn)
		for _, c := range children {
			ins = ins.Values(owner, c.(entity.IKeyed).KeyValue())
		}
		if _, err := ins.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) assignKey(r *resolved, record any) error {
	assignable, ok := record.(entity.IKeyAssignable)
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidInput, "%T cannot accept a generated key", record)
	}
	key, err := s.keys.NextKey(keyType(r.meta))
	if err != nil {
		return err
	}
	return assignable.AssignKey(key)
}

// Begin 实现 store.IBackend；同一时刻只允许一个活动事务
func (s *Store) Begin(ctx context.Context, opts *sql.TxOptions) (store.ITxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, errors.NewError(errors.ErrCodeConflict, "sql store already has an open transaction")
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "begin")
	}
	s.active = tx
	return &txHandle{store: s, tx: tx}, nil
}

type txHandle struct {
	store *Store
	tx    core.ITransaction
}

func (h *txHandle) Commit(ctx context.Context) error {
	defer h.release()
	if err := h.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (h *txHandle) Rollback(ctx context.Context) error {
	defer h.release()
	if err := h.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (h *txHandle) release() {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.active == h.tx {
		h.store.active = nil
	}
}
