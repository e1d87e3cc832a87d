package store

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokeep/entity"
	"gokeep/errors"
)

type fakeHandle struct {
	commits, rollbacks int
	commitErr          error
}

func (f *fakeHandle) Commit(context.Context) error {
	f.commits++
	return f.commitErr
}

func (f *fakeHandle) Rollback(context.Context) error {
	f.rollbacks++
	return nil
}

// TestTransaction_SingleTerminalTransition 只允许一次终态迁移
func TestTransaction_SingleTerminalTransition(t *testing.T) {
	ctx := context.Background()
	h := &fakeHandle{}
	var ended []TxState
	tx := NewTransaction("fake", h, nil, func(s TxState) { ended = append(ended, s) })

	assert.Equal(t, TxOpen, tx.State())
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())

	err := tx.Rollback(ctx)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeTransaction))
	assert.Error(t, tx.Commit(ctx))
	assert.NoError(t, tx.Close(ctx), "终态后 Close 为空操作")

	assert.Equal(t, 1, h.commits)
	assert.Equal(t, 0, h.rollbacks)
	assert.Equal(t, []TxState{TxCommitted}, ended)
}

// TestTransaction_CloseRollsBackOpen Close 回滚仍处于 Open 的事务
func TestTransaction_CloseRollsBackOpen(t *testing.T) {
	h := &fakeHandle{}
	tx := NewTransaction("fake", h, nil, nil)

	require.NoError(t, tx.Close(context.Background()))
	assert.Equal(t, TxRolledBack, tx.State())
	assert.Equal(t, 1, h.rollbacks)
}

// TestTransaction_CommitFailure 提交失败视为回滚
func TestTransaction_CommitFailure(t *testing.T) {
	h := &fakeHandle{commitErr: stdErrors.New("disk full")}
	tx := NewTransaction("fake", h, nil, nil)

	err := tx.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, h.commitErr))
	assert.Equal(t, TxRolledBack, tx.State())
}

func TestValidationFailure(t *testing.T) {
	var v ValidationFailure
	assert.NoError(t, v.OrNil())

	v.Add("ignored")
	assert.NoError(t, v.OrNil())

	v.Add(&struct{}{}, FieldError{Field: "name", Message: "required"})
	err := v.OrNil()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name: required")
}

func TestChangeSet_Count(t *testing.T) {
	cs := &ChangeSet{Changes: []Change{
		{State: entity.Inserted}, {State: entity.Inserted}, {State: entity.Deleted},
	}}
	assert.Equal(t, 3, cs.Len())
	assert.Equal(t, 2, cs.Count(entity.Inserted))
	assert.Equal(t, 0, cs.Count(entity.Modified))

	var empty *ChangeSet
	assert.Equal(t, 0, empty.Len())
}
