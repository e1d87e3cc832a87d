package hooks

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokeep/entity"
	"gokeep/errors"
)

type audited struct {
	entity.Audited[int64, string]
	Name string
}

type plain struct {
	entity.Entity[int64]
}

var at = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// TestDefault_Insert 插入只填充创建字段
func TestDefault_Insert(t *testing.T) {
	r := &audited{}
	require.NoError(t, Default[string]().Run(context.Background(), r, entity.Insert, entity.Detached, "alice", at))

	assert.Equal(t, "alice", r.CreatedBy)
	assert.Equal(t, at, r.CreatedAt)
	assert.Empty(t, r.ModifiedBy)
	assert.True(t, r.ModifiedAt.IsZero())
	assert.Nil(t, r.DeletedAt)
	assert.False(t, r.Deleted)
}

// TestDefault_Update 更新只填充修改字段
func TestDefault_Update(t *testing.T) {
	r := &audited{}
	require.NoError(t, Default[string]().Run(context.Background(), r, entity.Update, entity.Unchanged, "bob", at))

	assert.Equal(t, "bob", r.ModifiedBy)
	assert.Equal(t, at, r.ModifiedAt)
	assert.Empty(t, r.CreatedBy)
	assert.False(t, r.Deleted)
}

// TestDefault_Delete 删除填充删除字段并打软删除标记
func TestDefault_Delete(t *testing.T) {
	r := &audited{}
	require.NoError(t, Default[string]().Run(context.Background(), r, entity.Delete, entity.Unchanged, "carol", at))

	assert.Equal(t, "carol", r.DeletedBy)
	require.NotNil(t, r.DeletedAt)
	assert.Equal(t, at, *r.DeletedAt)
	assert.True(t, r.Deleted)
	assert.Empty(t, r.ModifiedBy)
}

// TestDefault_MissingCapability 未实现能力接口的记录不受影响
func TestDefault_MissingCapability(t *testing.T) {
	r := &plain{}
	for _, op := range []entity.Operation{entity.Insert, entity.Update, entity.Delete} {
		assert.NoError(t, Default[string]().Run(context.Background(), r, op, entity.Detached, "x", at))
	}
	assert.Equal(t, 7, Default[string]().Len())
}

// TestChain_RunsEveryHook 失败后仍执行全部钩子，并按顺序汇总错误
func TestChain_RunsEveryHook(t *testing.T) {
	first := stdErrors.New("first")
	second := stdErrors.New("second")
	var calls []int

	chain := New[int](
		func(context.Context, any, entity.Operation, entity.State, int, time.Time) error {
			calls = append(calls, 1)
			return first
		},
		func(context.Context, any, entity.Operation, entity.State, int, time.Time) error {
			calls = append(calls, 2)
			panic("boom")
		},
		func(context.Context, any, entity.Operation, entity.State, int, time.Time) error {
			calls = append(calls, 3)
			return second
		},
		func(context.Context, any, entity.Operation, entity.State, int, time.Time) error {
			calls = append(calls, 4)
			return nil
		},
	)

	err := chain.Run(context.Background(), &plain{}, entity.Insert, entity.Detached, 1, at)
	assert.Equal(t, []int{1, 2, 3, 4}, calls)

	var multi *errors.MultiError
	require.True(t, errors.As(err, &multi))
	require.Len(t, multi.Errors, 3)
	assert.Same(t, first, multi.Errors[0])
	assert.True(t, errors.IsErrorCode(multi.Errors[1], errors.ErrCodeHook))
	assert.Same(t, second, multi.Errors[2])
}

// TestChain_Append 追加生成新链，原链不变
func TestChain_Append(t *testing.T) {
	base := Default[string]()
	var seen []string
	extended := base.Append(func(_ context.Context, record any, _ entity.Operation, _ entity.State, by string, _ time.Time) error {
		seen = append(seen, by)
		return nil
	})

	assert.Equal(t, 7, base.Len())
	assert.Equal(t, 8, extended.Len())

	r := &audited{}
	require.NoError(t, extended.Run(context.Background(), r, entity.Insert, entity.Detached, "dave", at))
	assert.Equal(t, []string{"dave"}, seen)
	assert.Equal(t, "dave", r.CreatedBy, "追加的钩子在默认钩子之后执行")

	empty := New[string]()
	assert.NoError(t, empty.Run(context.Background(), r, entity.Insert, entity.Detached, "", at))
}
