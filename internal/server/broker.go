package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/post-studio/internal/batch"
)

const subscriberBuffer = 64

// broker fans batch progress events out to stream subscribers of the same run. Publishing
// never blocks the batch loop: a subscriber whose buffer is full misses the event and
// catches up from the next snapshot.
type broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan batch.ProgressEvent]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[uuid.UUID]map[chan batch.ProgressEvent]struct{})}
}

// subscribe registers for events of runID. The returned function unsubscribes.
func (b *broker) subscribe(runID uuid.UUID) (<-chan batch.ProgressEvent, func()) {
	ch := make(chan batch.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan batch.ProgressEvent]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[runID], ch)
		if len(b.subs[runID]) == 0 {
			delete(b.subs, runID)
		}
	}
}

func (b *broker) publish(event batch.ProgressEvent) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[event.RunID] {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broker) subscribers(runID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}
