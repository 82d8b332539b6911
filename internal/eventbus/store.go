package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/imagearena/api/internal/models"
)

const (
	// StreamName is the JetStream stream holding arena events
	StreamName = "ARENA"

	SubjectVoteRecorded        = "votes.recorded"
	SubjectImpressionsReserved = "impressions.reserved"

	publishTimeout = 2 * time.Second
)

// Event wraps a stored payload with its stream metadata
type Event struct {
	Sequence  uint64          `json:"sequence"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// VoteRecorded is published after a vote is persisted
type VoteRecorded struct {
	VoteID      uuid.UUID `json:"vote_id"`
	PromptID    uuid.UUID `json:"prompt_id"`
	ChosenModel string    `json:"chosen_model"`
	ShownModels []string  `json:"shown_models"`
	SessionID   string    `json:"session_id,omitempty"`
	Device      string    `json:"device,omitempty"`
	Country     string    `json:"country,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImpressionsReserved is published after an allocation commits its increments
type ImpressionsReserved struct {
	PromptID   uuid.UUID   `json:"prompt_id"`
	ImageIDs   []uuid.UUID `json:"image_ids"`
	Models     []string    `json:"models"`
	Degraded   bool        `json:"degraded"`
	ReservedAt time.Time   `json:"reserved_at"`
}

// EnsureStream creates the arena stream if it does not exist yet
func (b *Bus) EnsureStream() error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"votes.*", "impressions.*"},
		MaxAge:   30 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream %s: %w", StreamName, err)
	}
	return nil
}

// Append publishes data as JSON on subject. msgID lets JetStream drop
// duplicates when a publish is retried.
func (b *Bus) Append(ctx context.Context, subject, msgID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	if _, err := b.js.Publish(subject, payload, opts...); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// PublishVote emits a votes.recorded event
func (b *Bus) PublishVote(ctx context.Context, vote *models.Vote) error {
	return b.Append(ctx, SubjectVoteRecorded, vote.ID.String(), VoteRecorded{
		VoteID:      vote.ID,
		PromptID:    vote.PromptID,
		ChosenModel: vote.ChosenModel,
		ShownModels: vote.ShownModels,
		SessionID:   vote.SessionID,
		Device:      vote.Client.Device,
		Country:     vote.Client.Country,
		CreatedAt:   vote.CreatedAt,
	})
}

// PublishReservation emits an impressions.reserved event
func (b *Bus) PublishReservation(ctx context.Context, alloc *models.Allocation) error {
	ev := ImpressionsReserved{
		PromptID:   alloc.PromptID,
		Models:     alloc.ShownModels(),
		Degraded:   alloc.Degraded,
		ReservedAt: time.Now().UTC(),
	}
	for _, c := range alloc.Candidates {
		ev.ImageIDs = append(ev.ImageIDs, c.ImageID)
	}
	return b.Append(ctx, SubjectImpressionsReserved, "", ev)
}

// Read returns up to limit of the most recent events stored for subject
func (b *Bus) Read(subject string, limit int) ([]Event, error) {
	sub, err := b.js.SubscribeSync(subject, nats.BindStream(StreamName), nats.DeliverAll(), nats.AckNone())
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var events []Event
	for {
		msg, err := sub.NextMsg(200 * time.Millisecond)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return events, err
		}

		ev := Event{Subject: msg.Subject, Data: msg.Data}
		if meta, err := msg.Metadata(); err == nil {
			ev.Sequence = meta.Sequence.Stream
			ev.Timestamp = meta.Timestamp
		}
		events = append(events, ev)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	}
	return events, nil
}
