package event

import (
	"sync"
	"time"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/infra"
)

const (
	defaultHistoryLimit   = 5000
	defaultSubscriberSize = 256
)

// Subscriber receives bus events on C. A slow subscriber loses its oldest
// queued events, never the publisher's time.
type Subscriber struct {
	C chan domain.LiveEvent
}

// Bus is a bounded multi-subscriber pub/sub with a ring-buffer history for
// late joiners. Publish never blocks: the trading loop must not stall on a
// slow observer.
type Bus struct {
	mu      sync.Mutex
	history []domain.LiveEvent
	limit   int
	subs    map[*Subscriber]struct{}
}

// NewBus creates a bus keeping at most historyLimit events for Snapshot.
func NewBus(historyLimit int) *Bus {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Bus{
		history: make([]domain.LiveEvent, 0, historyLimit),
		limit:   historyLimit,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Publish stamps the event if needed, appends it to history and offers it
// to every subscriber. A full subscriber queue drops its oldest entry to
// admit the new one.
func (b *Bus) Publish(ev domain.LiveEvent) domain.LiveEvent {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = domain.SeverityInfo
	}
	if ev.Category == "" {
		ev.Category = domain.CategoryInfo
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == b.limit {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.limit-1]
	}
	b.history = append(b.history, ev)

	for sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			// Favor recency over completeness for slow consumers.
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- ev:
			default:
			}
		}
	}
	return ev
}

// Incident publishes an ERROR-severity event. Details are sanitized
// here because incidents routinely carry request payloads that may
// embed credentials.
func (b *Bus) Incident(action, message, symbol string, details map[string]any) domain.LiveEvent {
	return b.Publish(domain.LiveEvent{
		Severity: domain.SeverityError,
		Category: domain.CategoryIncident,
		Message:  message,
		Symbol:   symbol,
		Action:   action,
		Details:  infra.SanitizeDetails(details),
	})
}

// Subscribe registers a new subscriber with a bounded queue.
func (b *Bus) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultSubscriberSize
	}
	sub := &Subscriber{C: make(chan domain.LiveEvent, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches the subscriber. Its channel is not closed; pending
// events remain readable.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Snapshot returns the most recent limit history entries, oldest first.
func (b *Bus) Snapshot(limit int) []domain.LiveEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]domain.LiveEvent, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
