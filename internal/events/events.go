// Package events publishes video lifecycle notifications to downstream
// consumers. Publishing is best effort: callers log and count failures but
// never roll back the state change that produced the event.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bagurumba/internal/models"
)

// TypeStatusChanged is emitted when a record reaches a terminal status.
const TypeStatusChanged = "video.status_changed"

// Event is the wire shape shared by every driver.
type Event struct {
	Type          string             `json:"type"`
	CorrelationID string             `json:"correlationId"`
	OwnerID       string             `json:"ownerId"`
	Status        models.VideoStatus `json:"status"`
	// Channel is "pull", "push" or "sweep".
	Channel    string    `json:"channel"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Validate rejects events without a type or correlation id.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("event type is required")
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		return errors.New("event correlation id is required")
	}
	return nil
}

func (e Event) marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Memory keeps published events in process, for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// FailWith makes subsequent Publish calls return err. Nil restores success.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Close() error { return nil }
