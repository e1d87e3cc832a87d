// Package clock 提供写入管道使用的时间源
package clock

import (
	"sync"
	"time"
)

// Clock 时间源接口
type Clock interface {
	Now() time.Time
}

// System 系统时钟（UTC）
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Func 函数适配器
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Manual 可手动推进的时钟，用于测试，并发安全
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 创建起始于 start 的手动时钟
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 推进时钟
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set 设置当前时间
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
