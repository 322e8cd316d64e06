package pipeline

import (
	"sync"
	"time"

	"imagepump/internal/domain"
)

// EventType names an orchestrator event.
type EventType string

const (
	EventJobUpdated  EventType = "job.updated"
	EventRunStarted  EventType = "run.started"
	EventRunFinished EventType = "run.finished"
	// EventDeliveryProgress reports batch Batch of Total being transferred.
	EventDeliveryProgress EventType = "delivery.progress"
)

// Event is delivered to observers. Job is set for job updates, Summary for
// run completion, Total for run start.
type Event struct {
	Type    EventType        `json:"type"`
	Job     *domain.ImageJob `json:"job,omitempty"`
	Summary *domain.Summary  `json:"summary,omitempty"`
	Total   int              `json:"total,omitempty"`
	Batch   int              `json:"batch,omitempty"`
	At      time.Time        `json:"at"`
}

// Observer receives events synchronously on the run goroutine and must not
// block.
type Observer func(Event)

// Broadcaster fans events out to subscribers over buffered channels. Slow
// subscribers miss events instead of stalling the run.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a channel with the given buffer. The returned func
// unregisters and closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
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

// Publish sends ev to every subscriber that has room.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
