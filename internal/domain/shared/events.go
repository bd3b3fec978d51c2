// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Progression events
	EventXPAwarded EventType = "progression.xp_awarded"
	EventLevelUp   EventType = "progression.level_up"

	// Ingestion events
	EventVoiceTickCompleted EventType = "ingest.voice_tick_completed"

	// Storage events
	EventSnapshotFlushed EventType = "store.snapshot_flushed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ingestion Events
// ═══════════════════════════════════════════════════════════════════════════

// VoiceTickCompletedEvent is emitted after every finished voice scan.
type VoiceTickCompletedEvent struct {
	BaseEvent
	Scanned         int           `json:"scanned"`
	Awarded         int           `json:"awarded"`
	SkippedChannels int           `json:"skipped_channels"`
	Duration        time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e VoiceTickCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"scanned":          e.Scanned,
		"awarded":          e.Awarded,
		"skipped_channels": e.SkippedChannels,
		"duration_ms":      e.Duration.Milliseconds(),
	}
}

// NewVoiceTickCompletedEvent creates a new VoiceTickCompletedEvent.
func NewVoiceTickCompletedEvent(tickID string, scanned, awarded, skipped int, d time.Duration) VoiceTickCompletedEvent {
	return VoiceTickCompletedEvent{
		BaseEvent:       NewBaseEvent(EventVoiceTickCompleted, tickID),
		Scanned:         scanned,
		Awarded:         awarded,
		SkippedChannels: skipped,
		Duration:        d,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Storage Events
// ═══════════════════════════════════════════════════════════════════════════

// SnapshotFlushedEvent is emitted after a snapshot reached the store.
type SnapshotFlushedEvent struct {
	BaseEvent
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e SnapshotFlushedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"records":     e.Records,
		"duration_ms": e.Duration.Milliseconds(),
	}
}

// NewSnapshotFlushedEvent creates a new SnapshotFlushedEvent.
func NewSnapshotFlushedEvent(store string, records int, d time.Duration) SnapshotFlushedEvent {
	return SnapshotFlushedEvent{
		BaseEvent: NewBaseEvent(EventSnapshotFlushed, store),
		Records:   records,
		Duration:  d,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serializes an event payload into an envelope.
func NewEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}

	env := EventEnvelope{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if base, ok := baseOf(event); ok {
		env.ID = base.ID
		env.Version = base.Version
		env.CorrelationID = base.CorrelationID
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return env, nil
}

// baseCarrier is satisfied by every event embedding BaseEvent.
type baseCarrier interface {
	Base() BaseEvent
}

// Base returns the embedded base event.
func (e BaseEvent) Base() BaseEvent {
	return e
}

func baseOf(event Event) (BaseEvent, bool) {
	if c, ok := event.(baseCarrier); ok {
		return c.Base(), true
	}
	return BaseEvent{}, false
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
