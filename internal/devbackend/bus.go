package devbackend

import (
	"log/slog"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

const (
	historySize   = 100
	replayOnJoin  = 5
	subscriberBuf = 256
)

// Bus is an in-process fan-out of stream payloads. New subscribers receive
// the most recent events first.
type Bus struct {
	mu      sync.Mutex
	subs    map[chan domain.StreamPayload]struct{}
	history []domain.StreamPayload
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan domain.StreamPayload]struct{}),
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// Publish stamps and delivers an event. Slow subscribers miss events rather
// than block the publisher.
func (b *Bus) Publish(eventType, source string, data map[string]any) {
	ev := domain.StreamPayload{
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: b.now().UTC().Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, ev)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping event for slow subscriber", "type", eventType)
		}
	}
}

// Subscribe returns a channel of events and a function that unsubscribes.
func (b *Bus) Subscribe() (<-chan domain.StreamPayload, func()) {
	ch := make(chan domain.StreamPayload, subscriberBuf)

	b.mu.Lock()
	start := len(b.history) - replayOnJoin
	if start < 0 {
		start = 0
	}
	for _, ev := range b.history[start:] {
		ch <- ev
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Done is closed when the bus shuts down.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Close ends every open stream.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
