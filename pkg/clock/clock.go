package clock

import (
	"sync"
	"time"
)

// Clock 可注入的时间源，所有业务时间比较都通过它取当前时间
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Real 返回系统时钟
func Real() Clock { return realClock{} }

// Mock 手动推进的时钟，用于测试
type Mock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewMock(start time.Time) *Mock {
	return &Mock{now: start.UTC()}
}

func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance 推进时间
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
