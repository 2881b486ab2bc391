package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventTypeSessionCreated EventType = "session_created"
	EventTypeSessionClosed  EventType = "session_closed"
	EventTypeUserJoined     EventType = "user_joined"
	EventTypeUserLeft       EventType = "user_left"
	EventTypeSongAdded      EventType = "song_added"
	EventTypeSongVoted      EventType = "song_voted"
	EventTypeSongRemoved    EventType = "song_removed"
	EventTypeSongStarted    EventType = "song_started"
)

type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	SessionCode string          `json:"session_code"`
	UserID      string          `json:"user_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh id and the payload encoded as JSON.
func New(typ EventType, sessionCode, userID string, payload interface{}) (Event, error) {
	e := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		SessionCode: sessionCode,
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		e.Payload = b
	}
	return e, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Publisher delivers session events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// KafkaPublisher writes events to a single topic keyed by session code, so
// all events of one session land in the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    logrus.FieldLogger
}

func NewKafkaPublisher(brokers []string, topic string, log logrus.FieldLogger) *KafkaPublisher {
	p := &KafkaPublisher{log: log.WithField("component", "kafka")}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				p.log.WithError(err).WithField("messages", len(messages)).Warn("failed to deliver events")
			}
		},
	}
	return p
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.SessionCode),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event payload types

type SessionCreatedPayload struct {
	HostName string `json:"host_name"`
}

type SessionClosedPayload struct {
	HostName     string    `json:"host_name"`
	TracksPlayed int       `json:"tracks_played"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserJoinedPayload struct {
	UserName string `json:"user_name"`
}

type UserLeftPayload struct {
	Remaining int    `json:"remaining"`
	NewHostID string `json:"new_host_id,omitempty"`
}

type SongAddedPayload struct {
	QueueItemID string `json:"queue_item_id"`
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
}

type SongVotedPayload struct {
	QueueItemID string `json:"queue_item_id"`
	Value       int    `json:"value"`
	Score       int    `json:"score"`
}

type SongRemovedPayload struct {
	QueueItemID string `json:"queue_item_id"`
}

type SongStartedPayload struct {
	QueueItemID string `json:"queue_item_id"`
	TrackID     string `json:"track_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Genre       string `json:"genre,omitempty"`
	AddedBy     string `json:"added_by"`
	Score       int    `json:"score"`
}
