// Package store 定义会话与持久化后端之间的契约
//
// 后端只需要三类能力：按主键加载、原子地应用一批变更、开启事务。
// 查询规划、索引等不在本契约范围内。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"gokeep/entity"
)

// IBackend 持久化后端
type IBackend interface {
	// Name 后端名称，用于日志与指标
	Name() string

	// Load 按主键加载记录，不存在的主键被忽略；返回的实例归调用方所有
	Load(ctx context.Context, recordType reflect.Type, keys []any) ([]any, error)

	// LoadAll 加载某类型的全部记录
	LoadAll(ctx context.Context, recordType reflect.Type) ([]any, error)

	// Apply 原子地应用变更集：要么全部生效，要么全部不生效。
	// 插入记录的主键未分配时由后端分配并回写到记录上；Apply 失败时回写的主键须恢复为零值。
	// 字段级拒绝以 *ValidationFailure 返回。
	Apply(ctx context.Context, cs *ChangeSet) error

	// Begin 开启事务；事务期间的 Load/Apply 都在该事务内执行
	Begin(ctx context.Context, opts *sql.TxOptions) (ITxHandle, error)
}

// ITxHandle 后端事务句柄，由 Transaction 负责状态约束
type ITxHandle interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Change 单条待持久化变更
type Change struct {
	Record any
	// State 取值为 Inserted、Modified、Deleted 之一
	State entity.State
}

// ChangeSet 一次 SaveChanges 的全部变更，保持跟踪顺序
type ChangeSet struct {
	Changes []Change
}

// Len 变更条数
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Changes)
}

// Count 按状态统计变更条数
func (cs *ChangeSet) Count(state entity.State) int {
	n := 0
	for _, c := range cs.Changes {
		if c.State == state {
			n++
		}
	}
	return n
}

// Unkeyed 尚未分配主键的插入记录；须在 Apply 之前调用
func (cs *ChangeSet) Unkeyed() []any {
	var out []any
	for _, c := range cs.Changes {
		if c.State != entity.Inserted {
			continue
		}
		if keyed, ok := c.Record.(entity.IKeyed); ok && keyed.IsTransient() {
			out = append(out, c.Record)
		}
	}
	return out
}

// ResetKeys Apply 失败后撤销回写到记录上的主键
func ResetKeys(records []any) {
	for _, r := range records {
		if keyed, ok := r.(entity.IKeyed); ok && !keyed.IsTransient() {
			_ = entity.ResetKey(r)
		}
	}
}

// FieldError 单个字段被存储拒绝的原因
type FieldError struct {
	Field   string
	Message string
}

// EntryFailure 一条记录的字段级拒绝
type EntryFailure struct {
	Record any
	Fields []FieldError
}

// ValidationFailure 存储层字段校验失败
type ValidationFailure struct {
	Entries []EntryFailure
}

func (v *ValidationFailure) Error() string {
	var sb strings.Builder
	sb.WriteString("store rejected the change set:")
	for _, e := range v.Entries {
		for _, f := range e.Fields {
			fmt.Fprintf(&sb, " %T.%s: %s;", e.Record, f.Field, f.Message)
		}
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Add 追加一条记录的字段错误，fields 为空时忽略
func (v *ValidationFailure) Add(record any, fields ...FieldError) {
	if len(fields) == 0 {
		return
	}
	v.Entries = append(v.Entries, EntryFailure{Record: record, Fields: fields})
}

// OrNil 无条目时返回 nil，便于直接作为 error 返回
func (v *ValidationFailure) OrNil() error {
	if v == nil || len(v.Entries) == 0 {
		return nil
	}
	return v
}
