// Package events provides real-time build status streaming.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// Event is a build record state change.
type Event struct {
	BuildID       string             `json:"build_id"`
	Status        models.BuildStatus `json:"status"`
	ExternalJobID string             `json:"external_job_id,omitempty"`
	DownloadURL   string             `json:"download_url,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// FromRecord builds an event describing the current state of a record.
func FromRecord(rec *models.BuildRecord, reason string) *Event {
	return &Event{
		BuildID:       rec.ID,
		Status:        rec.Status,
		ExternalJobID: rec.ExternalJobID,
		DownloadURL:   rec.DownloadURL,
		Reason:        reason,
		Timestamp:     rec.UpdatedAt,
	}
}

// Subscriber represents a build event stream subscriber.
type Subscriber struct {
	ID        string
	BuildID   string // "" for all builds
	Ch        chan *Event
	CreatedAt time.Time
}

// Broker manages build event subscriptions and publishing.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe creates a new subscription for events of one build, or of every
// build when buildID is empty.
func (b *Broker) Subscribe(buildID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.New().String(),
		BuildID:   buildID,
		Ch:        make(chan *Event, 32),
		CreatedAt: time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "build_id", buildID)

	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends an event to all matching subscribers. Slow subscribers miss
// events rather than blocking the publisher.
func (b *Broker) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.BuildID != "" && sub.BuildID != event.BuildID {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
			b.logger.Warn("subscriber channel full, dropping build event",
				"subscriber_id", sub.ID,
				"build_id", event.BuildID,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
