package ledger

import (
	"context"
	"sync"
)

// EventKind names the write that produced an Event
type EventKind string

const (
	EventSnapshot   EventKind = "snapshot" // initial state sent to a new subscriber
	EventScan       EventKind = "scan"
	EventRedemption EventKind = "redemption"
)

// Event is published after every successful write
type Event struct {
	Kind  EventKind `json:"kind"`
	Stats Stats     `json:"stats"`
}

// Subscribe returns a channel of change events. A slow reader only sees the
// most recent event. The channel is closed once ctx is done.
func (l *Ledger) Subscribe(ctx context.Context) <-chan Event {
	return l.events.subscribe(ctx)
}

type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// replace the unread event with the newer one
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
