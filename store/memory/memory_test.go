package memory

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokeep/entity"
	"gokeep/errors"
	"gokeep/store"
)

type Tag struct {
	entity.Entity[int64]
	Label string
}

type Widget struct {
	entity.Audited[int64, string]
	Name string
	SKU  string
	Tags []*Tag
}

var (
	widgetType = reflect.TypeOf(&Widget{})
	tagType    = reflect.TypeOf(&Tag{})
)

func apply(t *testing.T, s *Store, changes ...store.Change) error {
	t.Helper()
	return s.Apply(context.Background(), &store.ChangeSet{Changes: changes})
}

// TestApply_InsertAssignsKeys 插入时为未分配主键的记录生成主键
func TestApply_InsertAssignsKeys(t *testing.T) {
	s := New()
	a := &Widget{Name: "a"}
	b := &Widget{Name: "b"}

	require.NoError(t, apply(t, s,
		store.Change{Record: a, State: entity.Inserted},
		store.Change{Record: b, State: entity.Inserted},
	))
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	all, err := s.LoadAll(context.Background(), widgetType)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].(*Widget).Name)
	assert.NotSame(t, a, all[0], "加载结果为副本")
}

// TestApply_Atomic 任一条目被拒绝时整批不生效
func TestApply_Atomic(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(Registration{
		Type: widgetType,
		Constraints: []Constraint{func(record any) []store.FieldError {
			if record.(*Widget).Name == "" {
				return []store.FieldError{{Field: "Name", Message: "NOT NULL constraint failed"}}
			}
			return nil
		}},
	}))

	err := apply(t, s,
		store.Change{Record: &Widget{Name: "ok"}, State: entity.Inserted},
		store.Change{Record: &Widget{}, State: entity.Inserted},
	)

	var failure *store.ValidationFailure
	require.True(t, errors.As(err, &failure))
	require.Len(t, failure.Entries, 1)
	assert.Equal(t, "Name", failure.Entries[0].Fields[0].Field)
	assert.Equal(t, 0, s.Count(widgetType))
}

// TestApply_Unique 唯一字段冲突
func TestApply_Unique(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(Registration{Type: widgetType, Unique: []string{"SKU"}}))
	require.NoError(t, apply(t, s, store.Change{Record: &Widget{SKU: "x"}, State: entity.Inserted}))

	err := apply(t, s, store.Change{Record: &Widget{SKU: "x"}, State: entity.Inserted})
	var failure *store.ValidationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "SKU", failure.Entries[0].Fields[0].Field)
	assert.Equal(t, 1, s.Count(widgetType))

	assert.Error(t, s.Register(Registration{Type: widgetType, Unique: []string{"Missing"}}))
}

// TestApply_ModifyAndDelete 修改与物理删除
func TestApply_ModifyAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	w := &Widget{Name: "v1"}
	require.NoError(t, apply(t, s, store.Change{Record: w, State: entity.Inserted}))

	w.Name = "v2"
	require.NoError(t, apply(t, s, store.Change{Record: w, State: entity.Modified}))
	got, err := s.Load(ctx, widgetType, []any{w.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].(*Widget).Name)

	require.NoError(t, apply(t, s, store.Change{Record: w, State: entity.Deleted}))
	assert.Equal(t, 0, s.Count(widgetType))

	err = apply(t, s, store.Change{Record: w, State: entity.Modified})
	assert.True(t, errors.IsNotFound(err))
	err = apply(t, s, store.Change{Record: w, State: entity.Deleted})
	assert.True(t, errors.IsNotFound(err))
}

// TestApply_SoftDelete 软删除以更新形式保存，并在加载时过滤
func TestApply_SoftDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Register(Registration{Type: widgetType, SoftDelete: true}))
	w := &Widget{Name: "soft"}
	require.NoError(t, apply(t, s, store.Change{Record: w, State: entity.Inserted}))

	w.MarkDeleted()
	require.NoError(t, apply(t, s, store.Change{Record: w, State: entity.Deleted}))

	got, err := s.Load(ctx, widgetType, []any{w.ID})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, s.Count(widgetType))

	err = apply(t, s, store.Change{Record: &Widget{Audited: w.Audited}, State: entity.Inserted})
	assert.Error(t, err, "软删除记录仍占用主键")
}

// TestAssociations 关联以主键保存，加载时解析为子记录副本
func TestAssociations(t *testing.T) {
	ctx := context.Background()
	s := New()
	red := &Tag{Label: "red"}
	blue := &Tag{Label: "blue"}
	require.NoError(t, apply(t, s,
		store.Change{Record: red, State: entity.Inserted},
		store.Change{Record: blue, State: entity.Inserted},
	))

	w := &Widget{Name: "w", Tags: []*Tag{red, blue}}
	require.NoError(t, apply(t, s, store.Change{Record: w, State: entity.Inserted}))

	got, err := s.Load(ctx, widgetType, []any{w.ID})
	require.NoError(t, err)
	loaded := got[0].(*Widget)
	require.Len(t, loaded.Tags, 2)
	assert.Equal(t, "red", loaded.Tags[0].Label)
	assert.NotSame(t, red, loaded.Tags[0])

	missing := &Tag{}
	missing.ID = 99
	w.Tags = []*Tag{missing}
	err = apply(t, s, store.Change{Record: w, State: entity.Modified})
	var failure *store.ValidationFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "Tags", failure.Entries[0].Fields[0].Field)

	tags, err := s.LoadAll(ctx, tagType)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

// TestTransaction 回滚恢复开启事务时的数据
func TestTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, apply(t, s, store.Change{Record: &Widget{Name: "kept"}, State: entity.Inserted}))

	h, err := s.Begin(ctx, nil)
	require.NoError(t, err)
	_, err = s.Begin(ctx, nil)
	assert.True(t, errors.IsConflict(err), "同一时刻只允许一个事务")

	require.NoError(t, apply(t, s, store.Change{Record: &Widget{Name: "temp"}, State: entity.Inserted}))
	assert.Equal(t, 2, s.Count(widgetType))

	require.NoError(t, h.Rollback(ctx))
	assert.Equal(t, 1, s.Count(widgetType))
	assert.Error(t, h.Commit(ctx))

	h, err = s.Begin(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, apply(t, s, store.Change{Record: &Widget{Name: "committed"}, State: entity.Inserted}))
	require.NoError(t, h.Commit(ctx))
	assert.Equal(t, 2, s.Count(widgetType))
}
