package campaign

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventKind string

const (
	EventStatus       EventKind = "status"
	EventSent         EventKind = "sent"
	EventFailed       EventKind = "failed"
	EventWaiting      EventKind = "waiting"
	EventPersistError EventKind = "persist_error"
	EventFinished     EventKind = "finished"
)

// Event is a progress notification from the worker to observers.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber drops events.
type Event struct {
	Kind     EventKind
	At       time.Time
	Snapshot Snapshot
	Failure  *FailureRecord
	Delay    time.Duration
	Summary  *Summary
	Err      error
}

type bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func newBus() *bus {
	return &bus{subs: map[uint64]chan Event{}}
}

func (b *bus) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
