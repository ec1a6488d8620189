// Package notify provides the in-process notification bus connecting the
// indexing pipeline to WebSocket clients and other subscribers.
package notify

import (
	"sync"

	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/types"
)

// Message is one published notification
type Message struct {
	Topic   string      `json:"topic"`
	JobID   string      `json:"jobId,omitempty"`
	Payload interface{} `json:"payload"`
}

// Subscription is one registered listener. Messages arrive on C until
// Unsubscribe is called or the bus closes.
type Subscription struct {
	C chan Message

	id     uint64
	topics map[string]bool
	jobID  string // non-empty restricts delivery to one job
}

const subscriptionBuffer = 64

// Bus is an explicit subscription registry. Publishing never blocks: a
// subscriber whose buffer is full misses the message.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	closed      bool

	// highest progress published per job, reset when the job goes terminal
	progressMu sync.Mutex
	progress   map[string]int

	logger *logging.Logger
}

// NewBus creates a new notification bus
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
		progress:    make(map[string]int),
		logger:      logger,
	}
}

// Subscribe registers a listener for the given topics. An empty topic list
// subscribes to everything.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	return b.subscribe("", topics)
}

// SubscribeJob registers a listener that only receives messages for one job,
// plus untargeted messages on its topics.
func (b *Bus) SubscribeJob(jobID string, topics ...string) *Subscription {
	return b.subscribe(jobID, topics)
}

func (b *Bus) subscribe(jobID string, topics []string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	topicSet := make(map[string]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	b.nextID++
	sub := &Subscription{
		C:      make(chan Message, subscriptionBuffer),
		id:     b.nextID,
		topics: topicSet,
		jobID:  jobID,
	}

	if b.closed {
		close(sub.C)
		return sub
	}

	b.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a listener and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub.id]; !ok {
		return
	}
	delete(b.subscribers, sub.id)
	close(sub.C)
}

// Publish delivers a message to all matching subscribers without blocking
func (b *Bus) Publish(topic, jobID string, payload interface{}) {
	msg := Message{Topic: topic, JobID: jobID, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		if sub.jobID != "" && jobID != "" && sub.jobID != jobID {
			continue
		}
		select {
		case sub.C <- msg:
		default:
			b.logger.WithFields(map[string]interface{}{
				"topic": topic,
				"jobId": jobID,
			}).Warn("subscriber buffer full, dropping notification")
		}
	}
}

// PublishJobProgress publishes a job-progress event. Progress for a job is
// monotonic: an update below the highest value already published is dropped.
// Terminal events always go out and clear the tracking entry.
func (b *Bus) PublishJobProgress(event types.JobProgressEvent) {
	b.progressMu.Lock()
	if event.Status.Terminal() {
		if prev, ok := b.progress[event.JobID]; ok && event.Progress < prev {
			event.Progress = prev
		}
		delete(b.progress, event.JobID)
	} else {
		if prev, ok := b.progress[event.JobID]; ok && event.Progress <= prev {
			b.progressMu.Unlock()
			return
		}
		b.progress[event.JobID] = event.Progress
	}
	b.progressMu.Unlock()

	b.Publish(types.TopicJobProgress, event.JobID, event)
}

// PublishNewTransfer publishes a new-transfer event
func (b *Bus) PublishNewTransfer(jobID string, event types.NewTransferEvent) {
	b.Publish(types.TopicNewTransfer, jobID, event)
}

// PublishEndpointCreated publishes an endpoint-created event
func (b *Bus) PublishEndpointCreated(event types.EndpointCreatedEvent) {
	b.Publish(types.TopicEndpointCreated, event.JobID, event)
}

// PublishSystemStatus publishes a system-status event
func (b *Bus) PublishSystemStatus(event types.SystemStatusEvent) {
	b.Publish(types.TopicSystemStatus, event.JobID, event)
}

// Close shuts the bus down and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.C)
	}
}
