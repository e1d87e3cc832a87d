package store

import (
	"context"
	"sync"

	"gokeep/errors"
	"gokeep/logging"
)

// TxState 事务状态
type TxState int

const (
	TxOpen TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// ITransaction 显式事务：Open 只能迁移到 Committed 或 RolledBack 之一，且只迁移一次
type ITransaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close 释放事务；仍处于 Open 时回滚
	Close(ctx context.Context) error
	State() TxState
}

// Transaction 基于后端句柄的 ITransaction 实现
type Transaction struct {
	mu      sync.Mutex
	handle  ITxHandle
	state   TxState
	onEnd   func(TxState)
	logger  logging.Logger
	backend string
}

// NewTransaction 包装后端句柄；onEnd 在进入终态后调用（可为 nil）
func NewTransaction(backend string, handle ITxHandle, logger logging.Logger, onEnd func(TxState)) *Transaction {
	if logger == nil {
		logger = logging.ComponentLogger(nil, "store.tx")
	}
	return &Transaction{handle: handle, logger: logger, backend: backend, onEnd: onEnd}
}

func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, TxCommitted)
}

func (t *Transaction) Rollback(ctx context.Context) error {
	return t.finish(ctx, TxRolledBack)
}

func (t *Transaction) Close(ctx context.Context) error {
	t.mu.Lock()
	open := t.state == TxOpen
	t.mu.Unlock()
	if !open {
		return nil
	}
	return t.finish(ctx, TxRolledBack)
}

func (t *Transaction) finish(ctx context.Context, target TxState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TxOpen {
		return errors.Newf(errors.ErrCodeTransaction, "transaction already %s", t.state)
	}

	var err error
	if target == TxCommitted {
		err = t.handle.Commit(ctx)
	} else {
		err = t.handle.Rollback(ctx)
	}

	// 提交失败时底层事务已不可用，统一视为回滚
	if err != nil && target == TxCommitted {
		_ = t.handle.Rollback(ctx)
		target = TxRolledBack
	}
	t.state = target
	if t.onEnd != nil {
		t.onEnd(target)
	}

	if err != nil {
		t.logger.Warn(ctx, "transaction end failed",
			logging.String("backend", t.backend),
			logging.String("state", target.String()),
			logging.Error(err))
		return errors.WrapError(err, errors.ErrCodeTransaction, "transaction "+target.String()+" failed")
	}
	t.logger.Debug(ctx, "transaction ended",
		logging.String("backend", t.backend),
		logging.String("state", target.String()))
	return nil
}
