// Package ledger records votes and derives per-model statistics from the
// votes and the impression counters the allocator maintains.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/metrics"
	"github.com/imagearena/api/internal/models"
)

var tracer = otel.Tracer("github.com/imagearena/api/internal/ledger")

// ErrInvalidVote is returned, wrapped in a *ValidationError, for votes that
// are rejected before any write
var ErrInvalidVote = errors.New("ledger: invalid vote")

const maxSessionIDLength = 128

// ValidationError names the field that made a vote invalid
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid vote: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidVote
func (e *ValidationError) Unwrap() error {
	return ErrInvalidVote
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Store persists votes and reads the tallies stats are built from
type Store interface {
	InsertVote(ctx context.Context, vote *models.Vote) error
	LoadTallies(ctx context.Context) (*models.Tallies, error)
}

// Verifier checks a reservation token against the vote it accompanies
type Verifier interface {
	Verify(token string, promptID uuid.UUID, shownModels []string) error
}

// Publisher announces recorded votes
type Publisher interface {
	PublishVote(ctx context.Context, vote *models.Vote) error
}

// Ledger records votes and computes aggregate statistics
type Ledger struct {
	store        Store
	verifier     Verifier
	requireToken bool
	deduper      Deduper
	publisher    Publisher
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithVerifier checks reservation tokens when present. With required set a
// vote without a token is rejected.
func WithVerifier(v Verifier, required bool) Option {
	return func(l *Ledger) {
		l.verifier = v
		l.requireToken = required
	}
}

// WithDeduper enables idempotency keys
func WithDeduper(d Deduper) Option {
	return func(l *Ledger) { l.deduper = d }
}

// WithPublisher enables vote events
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// New creates a ledger over store
func New(store Store, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordVote validates req and appends exactly one vote. The shown models are
// trusted as sent; they are not re-derived from the catalog.
func (l *Ledger) RecordVote(ctx context.Context, req *models.VoteRequest) (*models.VoteAck, error) {
	ctx, span := tracer.Start(ctx, "Ledger.RecordVote")
	defer span.End()

	ack, err := l.recordVote(ctx, req)
	switch {
	case err == nil && ack.Duplicate:
		metrics.DuplicateVotes.Inc()
		metrics.VotesRecorded.WithLabelValues("duplicate").Inc()
	case err == nil:
		metrics.VotesRecorded.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrInvalidVote):
		metrics.VotesRecorded.WithLabelValues("invalid").Inc()
	default:
		metrics.VotesRecorded.WithLabelValues("error").Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("vote.id", ack.VoteID.String()), attribute.Bool("duplicate", ack.Duplicate))
	return ack, nil
}

func (l *Ledger) recordVote(ctx context.Context, req *models.VoteRequest) (*models.VoteAck, error) {
	shown, err := validate(req)
	if err != nil {
		return nil, err
	}

	if err := l.checkToken(req, shown); err != nil {
		return nil, err
	}

	vote := &models.Vote{
		ID:          uuid.New(),
		PromptID:    req.PromptID,
		ChosenModel: strings.TrimSpace(req.ChosenModel),
		ShownModels: shown,
		SessionID:   req.SessionID,
		Client:      req.Client,
		CreatedAt:   l.now().UTC(),
	}

	claimed := false
	if req.IdempotencyKey != "" && l.deduper != nil {
		existing, ok, err := l.deduper.Claim(ctx, req.IdempotencyKey, vote.ID)
		switch {
		case err != nil:
			l.logger.Warn("Idempotency check unavailable, recording without it", zap.Error(err))
		case !ok:
			l.logger.Info("Duplicate vote ignored",
				zap.String("vote_id", existing.String()),
				zap.String("prompt_id", req.PromptID.String()),
			)
			return &models.VoteAck{VoteID: existing, Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	if err := l.store.InsertVote(ctx, vote); err != nil {
		if claimed {
			// let a retry of the same request go through
			if relErr := l.deduper.Release(context.WithoutCancel(ctx), req.IdempotencyKey); relErr != nil {
				l.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
			}
		}
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, invalid("prompt_id", "does not exist")
		}
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishVote(context.WithoutCancel(ctx), vote); err != nil {
			l.logger.Warn("Failed to publish vote", zap.String("vote_id", vote.ID.String()), zap.Error(err))
		}
	}

	l.logger.Info("Vote recorded",
		zap.String("vote_id", vote.ID.String()),
		zap.String("prompt_id", vote.PromptID.String()),
		zap.String("chosen_model", vote.ChosenModel),
		zap.Int("shown", len(vote.ShownModels)),
		zap.String("device", vote.Client.Device),
	)
	return &models.VoteAck{VoteID: vote.ID}, nil
}

// validate checks the request shape and returns the shown models as a set,
// keeping first-seen order
func validate(req *models.VoteRequest) ([]string, error) {
	if req == nil {
		return nil, invalid("body", "is required")
	}
	if req.PromptID == uuid.Nil {
		return nil, invalid("prompt_id", "is required")
	}
	chosen := strings.TrimSpace(req.ChosenModel)
	if chosen == "" {
		return nil, invalid("chosen_model", "is required")
	}
	if len(req.ShownModels) == 0 {
		return nil, invalid("shown_models", "must not be empty")
	}
	if len(req.SessionID) > maxSessionIDLength {
		return nil, invalid("session_id", "is too long")
	}

	seen := make(map[string]struct{}, len(req.ShownModels))
	shown := make([]string, 0, len(req.ShownModels))
	for _, m := range req.ShownModels {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, invalid("shown_models", "must not contain empty names")
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		shown = append(shown, m)
	}

	if _, ok := seen[chosen]; !ok {
		return nil, invalid("chosen_model", "was not among the shown models")
	}
	return shown, nil
}

func (l *Ledger) checkToken(req *models.VoteRequest, shown []string) error {
	if req.ReservationToken == "" {
		if l.requireToken {
			return invalid("reservation_token", "is required")
		}
		return nil
	}
	if l.verifier == nil {
		return nil
	}
	if err := l.verifier.Verify(req.ReservationToken, req.PromptID, shown); err != nil {
		return &ValidationError{Field: "reservation_token", Reason: err.Error()}
	}
	return nil
}
