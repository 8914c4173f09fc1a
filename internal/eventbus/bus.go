// Package eventbus carries in-process relay signals (deliveries, polls,
// config reloads) from producers to observers such as the audit writer.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the relay.
const (
	TypeSent         = "relay.sent"
	TypeFailed       = "relay.failed"
	TypePollError    = "trigger.poll_error"
	TypeConfigReload = "config.reloaded"
)

// Event is a small in-memory signal. Data should be JSON-serializable.
//
// Publish never blocks; each subscriber owns a buffered channel and events
// are dropped for a subscriber whose buffer is full.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Dropper is implemented by buses that count dropped deliveries.
type Dropper interface {
	Dropped() uint64
}

// New returns an in-memory fanout bus with no background goroutines.
func New() *Mem {
	return &Mem{subs: map[uint64]chan Event{}}
}

// Mem is the in-memory Bus.
type Mem struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *Mem) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *Mem) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *Mem) Dropped() uint64 { return b.dropped.Load() }

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}
