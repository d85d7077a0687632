package events

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"SafeCircle/pkg/logger"

	"go.uber.org/zap"
)

var (
	ErrBusClosed    = errors.New("events: bus is closed")
	ErrSinkExists   = errors.New("events: sink id already exists")
	ErrSinkNotFound = errors.New("events: sink id not found")
	errNilSink      = errors.New("events: sink cannot be nil")
)

// Sink 接收总线上的事件，必须快速返回
type Sink interface {
	Handle(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Handle(ev Event) { f(ev) }

// BusStats 总线统计快照
type BusStats struct {
	TotalPublished uint64
	TotalDropped   uint64
	Sinks          map[string]SinkStats
}

type SinkStats struct {
	Delivered uint64
	Panics    uint64
}

type sinkEntry struct {
	sink      Sink
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// Bus 进程内同步分发，单个 sink 的 panic 不影响其它 sink
type Bus struct {
	mu     sync.RWMutex
	sinks  map[string]*sinkEntry
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{sinks: make(map[string]*sinkEntry)}
}

func (b *Bus) Subscribe(id string, sink Sink) error {
	if sink == nil {
		return errNilSink
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.sinks[id]; ok {
		return ErrSinkExists
	}
	b.sinks[id] = &sinkEntry{sink: sink}
	return nil
}

func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.sinks[id]; !ok {
		return ErrSinkNotFound
	}
	delete(b.sinks, id)
	return nil
}

// Publish 按 sink id 顺序依次投递；关闭后的事件只计数
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.dropped.Add(1)
		return
	}
	ids := make([]string, 0, len(b.sinks))
	for id := range b.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entries := make([]*sinkEntry, len(ids))
	for i, id := range ids {
		entries[i] = b.sinks[id]
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for i, e := range entries {
		b.deliver(ids[i], e, ev)
	}
}

func (b *Bus) deliver(id string, e *sinkEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			logger.Error("event sink panicked",
				zap.String("sink", id),
				zap.String("type", ev.Type),
				zap.Any("panic", r),
			)
		}
	}()
	e.sink.Handle(ev)
	e.delivered.Add(1)
}

func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := BusStats{
		TotalPublished: b.published.Load(),
		TotalDropped:   b.dropped.Load(),
		Sinks:          make(map[string]SinkStats, len(b.sinks)),
	}
	for id, e := range b.sinks {
		s.Sinks[id] = SinkStats{Delivered: e.delivered.Load(), Panics: e.panics.Load()}
	}
	return s
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.sinks = make(map[string]*sinkEntry)
	return nil
}
