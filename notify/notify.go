// Package notify 在写入提交成功后发布变更通知
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"gokeep/errors"
)

// ChangeNotice 一次成功提交的写请求
type ChangeNotice struct {
	ID        string    `json:"id"`
	Record    string    `json:"record"`
	Operation string    `json:"operation"`
	Keys      []any     `json:"keys"`
	By        string    `json:"by,omitempty"`
	At        time.Time `json:"at"`
}

// NewChangeNotice 创建通知并分配唯一 ID
func NewChangeNotice(record, operation string, keys []any, by string, at time.Time) ChangeNotice {
	return ChangeNotice{
		ID:        uuid.NewString(),
		Record:    record,
		Operation: operation,
		Keys:      keys,
		By:        by,
		At:        at,
	}
}

// Topic 通知的主题名：<record>.<operation>
func (n ChangeNotice) Topic() string {
	return n.Record + "." + n.Operation
}

// Encode JSON 编码
func (n ChangeNotice) Encode() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "encode change notice")
	}
	return data, nil
}

// Decode 解码 Encode 的输出
func Decode(data []byte) (ChangeNotice, error) {
	var n ChangeNotice
	if err := json.Unmarshal(data, &n); err != nil {
		return n, errors.WrapError(err, errors.ErrCodeInvalidInput, "decode change notice")
	}
	return n, nil
}

// IPublisher 变更通知发布者
type IPublisher interface {
	Publish(ctx context.Context, notice ChangeNotice) error
	Close() error
}

// Fanout 依次发布到全部发布者，汇总全部错误
type Fanout []IPublisher

func (f Fanout) Publish(ctx context.Context, notice ChangeNotice) error {
	errs := make([]error, 0, len(f))
	for _, p := range f {
		errs = append(errs, p.Publish(ctx, notice))
	}
	return errors.CombineAll(errs...)
}

func (f Fanout) Close() error {
	errs := make([]error, 0, len(f))
	for _, p := range f {
		errs = append(errs, p.Close())
	}
	return errors.CombineAll(errs...)
}

// Recorder 在内存中记录通知（测试与本地调试用）
type Recorder struct {
	mu      sync.Mutex
	notices []ChangeNotice
}

func (r *Recorder) Publish(ctx context.Context, notice ChangeNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Notices 返回已记录通知的副本
func (r *Recorder) Notices() []ChangeNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeNotice(nil), r.notices...)
}
