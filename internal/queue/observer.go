package queue

import "sync"

// subscriberBuffer is the bounded per-subscriber channel depth. The core
// guarantees a minimum supported fan-out of 50 subscribers (spec §4.E,
// §9 event fan-out redesign); depth is independent of subscriber count.
const subscriberBuffer = 64

// UpdateKind names the sort of mutation an Update describes.
type UpdateKind string

const (
	UpdateJobAdded    UpdateKind = "job_added"
	UpdateJobUpdated  UpdateKind = "job_updated"
	UpdateJobRemoved  UpdateKind = "job_removed"
	UpdatePaused      UpdateKind = "paused"
	UpdateResumed     UpdateKind = "resumed"
	UpdateBulkCleared UpdateKind = "bulk_cleared"
)

// Update is the opaque event announced to observers after every successful
// state mutation.
type Update struct {
	Kind  UpdateKind
	JobID string
}

// broadcaster hands each subscriber an independent bounded channel and
// drops the oldest buffered event on overflow rather than blocking the
// announcing coordinator.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Update]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[chan Update]struct{})}
}

// Subscribe registers a new observer and returns its channel plus an
// unsubscribe func. The caller must drain the channel; Unsubscribe closes
// it and deregisters it.
func (b *broadcaster) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish announces update to every current subscriber. A full buffer has
// its oldest event dropped to make room, so a slow observer never blocks
// the coordinator.
func (b *broadcaster) Publish(update Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// SubscriberCount reports the current fan-out, mainly for tests asserting
// the ≥50 minimum supported subscriber count.
func (b *broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
