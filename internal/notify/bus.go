// Package notify implements the versioned change-notification bus that
// drives the /connections/stream event feed. Every mutation of the session
// registry publishes one Summary; subscribers receive them best-effort.
package notify

import (
	"sync"
	"time"

	"github.com/gluk-w/sshmux/internal/metrics"
)

// Reason identifies what kind of change a Summary describes.
type Reason string

const (
	ReasonCreated     Reason = "created"
	ReasonDeleted     Reason = "deleted"
	ReasonState       Reason = "state"
	ReasonWSAttached  Reason = "ws-attached"
	ReasonWSDetached  Reason = "ws-detached"
	ReasonResize      Reason = "resize"
	ReasonIdleTimeout Reason = "idle-timeout"
)

// Counts aggregates registry membership by session state at publish time.
type Counts struct {
	Total      int `json:"total"`
	Ready      int `json:"ready"`
	Connecting int `json:"connecting"`
	Error      int `json:"error"`
	Closed     int `json:"closed"`
}

// Summary is one change notification. Version increases by exactly one per
// publication, globally across all reasons.
type Summary struct {
	Version    uint64   `json:"version"`
	Ts         int64    `json:"ts"`
	Reason     Reason   `json:"reason"`
	ChangedIDs []string `json:"changedIds,omitempty"`
	Counts     Counts   `json:"counts"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls more than this far behind loses intermediate summaries; each summary
// carries full counts, so the next delivery restores an accurate picture.
const subscriberBuffer = 16

// subscription pairs a delivery channel with close-once ownership so a
// subscriber's cancel and a bus-wide Close never double-close it.
type subscription struct {
	ch   chan Summary
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus fans Summaries out to subscribers. Publish never blocks on a slow or
// dead subscriber.
type Bus struct {
	mu      sync.Mutex
	version uint64
	closed  bool
	subs    map[*subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Publish assigns the next version, stamps the current time, and delivers
// the summary to every subscriber whose buffer has room.
func (b *Bus) Publish(reason Reason, changedIDs []string, counts Counts) Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.version++
	s := Summary{
		Version:    b.version,
		Ts:         time.Now().UnixMilli(),
		Reason:     reason,
		ChangedIDs: changedIDs,
		Counts:     counts,
	}
	for sub := range b.subs {
		select {
		case sub.ch <- s:
		default:
			// Buffer full: drop this summary for this subscriber only.
		}
	}
	metrics.NotificationsPublished.Inc()
	return s
}

// Subscribe registers a new subscriber and returns the synthetic initial
// summary (reason state, current version, caller-supplied counts), the
// delivery channel, and a cancel function. Cancel is idempotent and closes
// the channel. Subscribing to a closed bus yields an already-closed channel.
func (b *Bus) Subscribe(counts Counts) (Summary, <-chan Summary, func()) {
	sub := &subscription{ch: make(chan Summary, subscriberBuffer)}

	b.mu.Lock()
	initial := Summary{
		Version: b.version,
		Ts:      time.Now().UnixMilli(),
		Reason:  ReasonState,
		Counts:  counts,
	}
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return initial, sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.close()
	}
	return initial, sub.ch, cancel
}

// Close drops every subscriber and closes their channels, ending any
// event streams still attached.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// Version returns the version of the most recent publication.
func (b *Bus) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// SubscriberCount reports how many subscribers are registered.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
