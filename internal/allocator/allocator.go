// Package allocator implements fair exposure: for a prompt it picks a bounded
// set of distinct-model candidates, biased toward the least-shown images, and
// reserves their impressions before returning them.
//
// Selection and reservation form one critical section per prompt. A keyed
// lock serializes callers for the same prompt, and the catalog applies the
// increments only if every counter still holds the value that was read, so a
// lost lock (expired TTL, second process) costs a retry, never a double count.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/locking"
	"github.com/imagearena/api/internal/metrics"
	"github.com/imagearena/api/internal/models"
)

var tracer = otel.Tracer("github.com/imagearena/api/internal/allocator")

var (
	// ErrNotFound means the prompt is unknown or has no images. Callers
	// should try another prompt.
	ErrNotFound = errors.New("allocator: prompt not found or has no images")

	// ErrTransientStoreFailure means the increments could not be applied
	// within the retry budget. Nothing was reserved; callers may retry.
	ErrTransientStoreFailure = errors.New("allocator: transient store failure")

	// ErrCounterOverflow means a selected impression counter is at its
	// maximum. It points at corrupt data and is not retried.
	ErrCounterOverflow = errors.New("allocator: impression counter overflow")
)

// randomPromptTries bounds how many random prompts AllocateRandom tries
// before giving up on prompts without images
const randomPromptTries = 3

// Catalog is the subset of the catalog store the allocator needs
type Catalog interface {
	GetPrompt(ctx context.Context, promptID uuid.UUID) (*models.Prompt, error)
	GetPromptText(ctx context.Context, promptID uuid.UUID, language string) (string, bool, error)
	GetImagesForPrompt(ctx context.Context, promptID uuid.UUID) ([]models.Image, error)
	IncrementImpressions(ctx context.Context, incs []catalog.Increment) error
	CountPrompts(ctx context.Context) (int64, error)
	PromptIDAt(ctx context.Context, offset int64) (uuid.UUID, error)
}

// Signer issues reservation tokens
type Signer interface {
	Issue(promptID uuid.UUID, shownModels []string) (string, error)
}

// Publisher announces committed reservations
type Publisher interface {
	PublishReservation(ctx context.Context, alloc *models.Allocation) error
}

// Allocator serves prompts with fairly exposed candidates
type Allocator struct {
	store     Catalog
	locker    locking.Locker
	signer    Signer
	publisher Publisher
	logger    *zap.Logger

	canonicalLanguage string

	maxCandidates  int
	maxAttempts    uint
	backoffInitial time.Duration
	backoffMax     time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Allocator
type Option func(*Allocator)

// WithLocker sets the per-prompt lock. Defaults to an in-process locker.
func WithLocker(l locking.Locker) Option {
	return func(a *Allocator) { a.locker = l }
}

// WithSigner enables reservation tokens
func WithSigner(s Signer) Option {
	return func(a *Allocator) { a.signer = s }
}

// WithPublisher enables reservation events
func WithPublisher(p Publisher) Option {
	return func(a *Allocator) { a.publisher = p }
}

// WithRand sets the random source used for shuffling and random prompts
func WithRand(rng *rand.Rand) Option {
	return func(a *Allocator) { a.rng = rng }
}

// WithMaxCandidates sets how many candidates a full selection has
func WithMaxCandidates(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxCandidates = n
		}
	}
}

// WithCanonicalLanguage names the language of the canonical prompt text.
// Defaults to "en".
func WithCanonicalLanguage(lang string) Option {
	return func(a *Allocator) {
		if lang != "" {
			a.canonicalLanguage = lang
		}
	}
}

// WithRetry sets the attempt budget and backoff bounds of one Allocate call
func WithRetry(attempts int, initial, maxInterval time.Duration) Option {
	return func(a *Allocator) {
		if attempts > 0 {
			a.maxAttempts = uint(attempts)
		}
		if initial > 0 {
			a.backoffInitial = initial
		}
		if maxInterval > 0 {
			a.backoffMax = maxInterval
		}
	}
}

// New creates an allocator over store
func New(store Catalog, logger *zap.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:          store,
		logger:         logger,
		maxCandidates:  models.DefaultMaxCandidates,
		maxAttempts:    5,
		backoffInitial: 10 * time.Millisecond,
		backoffMax:     200 * time.Millisecond,

		canonicalLanguage: "en",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.locker == nil {
		a.locker = locking.NewLocal()
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return a
}

// Allocate selects candidates for promptID, reserves their impressions and
// returns them in random on-screen order. A selection smaller than the
// configured size is returned with Degraded set; it is not an error.
func (a *Allocator) Allocate(ctx context.Context, promptID uuid.UUID, language string) (*models.Allocation, error) {
	ctx, span := tracer.Start(ctx, "Allocator.Allocate", trace.WithAttributes(
		attribute.String("prompt.id", promptID.String()),
		attribute.String("language", language),
	))
	defer span.End()

	start := time.Now()
	defer func() { metrics.AllocateDuration.Observe(time.Since(start).Seconds()) }()

	alloc, err := a.allocate(ctx, promptID, language)
	outcome := outcomeOf(alloc, err)
	metrics.AllocationsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(attribute.Int("candidates", len(alloc.Candidates)))
	return alloc, nil
}

// AllocateRandom picks a prompt uniformly at random and allocates it. Prompts
// without images are skipped a bounded number of times.
func (a *Allocator) AllocateRandom(ctx context.Context, language string) (*models.Allocation, error) {
	var lastErr error
	for i := 0; i < randomPromptTries; i++ {
		count, err := a.store.CountPrompts(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransientStoreFailure, err)
		}
		if count == 0 {
			return nil, ErrNotFound
		}

		promptID, err := a.store.PromptIDAt(ctx, a.int64N(count))
		if errors.Is(err, catalog.ErrNotFound) {
			// wiped between count and lookup
			lastErr = ErrNotFound
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransientStoreFailure, err)
		}

		alloc, err := a.Allocate(ctx, promptID, language)
		if errors.Is(err, ErrNotFound) {
			lastErr = err
			continue
		}
		return alloc, err
	}
	return nil, lastErr
}

func (a *Allocator) allocate(ctx context.Context, promptID uuid.UUID, language string) (*models.Allocation, error) {
	prompt, err := a.store.GetPrompt(ctx, promptID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, a.storeFailure(ctx, err)
	}

	text, served, err := a.promptText(ctx, prompt, language)
	if err != nil {
		return nil, a.storeFailure(ctx, err)
	}

	unlock, err := a.locker.Lock(ctx, promptID.String())
	if err != nil {
		return nil, a.storeFailure(ctx, err)
	}
	picked, err := a.reserve(ctx, promptID)
	unlock()
	if err != nil {
		return nil, err
	}

	alloc := &models.Allocation{
		PromptID:   prompt.ID,
		PromptText: text,
		Slug:       prompt.Slug,
		Language:   served,
		Candidates: make([]models.Candidate, 0, len(picked)),
		Degraded:   len(picked) < a.maxCandidates,
	}
	for _, img := range picked {
		alloc.Candidates = append(alloc.Candidates, models.Candidate{
			ImageID:   img.ID,
			ModelName: img.ModelName,
			ImageURL:  img.ImagePath,
		})
	}
	metrics.ImpressionsReserved.Add(float64(len(picked)))

	if alloc.Degraded {
		metrics.DegradedSelections.Inc()
		a.logger.Warn("Degraded selection",
			zap.String("prompt_id", promptID.String()),
			zap.Int("candidates", len(picked)),
			zap.Int("wanted", a.maxCandidates),
		)
	}

	// The impressions are committed from here on. Token and event failures
	// are logged and never undo the reservation.
	if a.signer != nil {
		token, err := a.signer.Issue(prompt.ID, alloc.ShownModels())
		if err != nil {
			a.logger.Error("Failed to issue reservation token", zap.Error(err))
		} else {
			alloc.ReservationToken = token
		}
	}
	if a.publisher != nil {
		if err := a.publisher.PublishReservation(context.WithoutCancel(ctx), alloc); err != nil {
			a.logger.Warn("Failed to publish reservation",
				zap.String("prompt_id", promptID.String()),
				zap.Error(err),
			)
		}
	}

	return alloc, nil
}

// reserve runs the read, select, increment loop until an increment commits,
// the prompt turns out to be empty, or the retry budget is spent
func (a *Allocator) reserve(ctx context.Context, promptID uuid.UUID) ([]models.Image, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.backoffInitial
	b.MaxInterval = a.backoffMax

	attempt := 0
	picked, err := backoff.Retry(ctx, func() ([]models.Image, error) {
		attempt++

		images, err := a.store.GetImagesForPrompt(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		if len(images) == 0 {
			return nil, backoff.Permanent(ErrNotFound)
		}

		selected := SelectCandidates(images, a.maxCandidates)
		incs := make([]catalog.Increment, 0, len(selected))
		for _, img := range selected {
			if img.ImpressionCount == math.MaxInt64 {
				return nil, backoff.Permanent(ErrCounterOverflow)
			}
			incs = append(incs, catalog.Increment{ImageID: img.ID, Expected: img.ImpressionCount})
		}
		a.shuffle(selected)

		// Past this point a cancellation that races the commit lets the
		// commit win.
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}

		err = a.store.IncrementImpressions(ctx, incs)
		switch {
		case err == nil:
			return selected, nil
		case errors.Is(err, catalog.ErrStaleCounters):
			metrics.AllocationConflicts.Inc()
			a.logger.Debug("Impression counters changed, retrying",
				zap.String("prompt_id", promptID.String()),
				zap.Int("attempt", attempt),
			)
			return nil, err
		case errors.Is(err, catalog.ErrCounterOverflow):
			return nil, backoff.Permanent(ErrCounterOverflow)
		case errors.Is(err, catalog.ErrNotFound):
			return nil, backoff.Permanent(ErrNotFound)
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		default:
			return nil, err
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(a.maxAttempts))

	if err == nil {
		return picked, nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCounterOverflow):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	a.logger.Error("Impression reservation failed",
		zap.String("prompt_id", promptID.String()),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	return nil, fmt.Errorf("%w: %v", ErrTransientStoreFailure, err)
}

// promptText returns the text to show and the language it is actually in.
// Missing translations fall back to the canonical text.
func (a *Allocator) promptText(ctx context.Context, prompt *models.Prompt, language string) (string, string, error) {
	if language == "" || language == a.canonicalLanguage {
		return prompt.Text, a.canonicalLanguage, nil
	}
	text, ok, err := a.store.GetPromptText(ctx, prompt.ID, language)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return prompt.Text, a.canonicalLanguage, nil
	}
	return text, language, nil
}

func (a *Allocator) storeFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", ErrTransientStoreFailure, err)
}

func (a *Allocator) shuffle(images []models.Image) {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	shuffle(a.rng, images)
}

func (a *Allocator) int64N(n int64) int64 {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.Int64N(n)
}

func outcomeOf(alloc *models.Allocation, err error) string {
	switch {
	case err == nil && alloc.Degraded:
		return "degraded"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCounterOverflow):
		return "overflow"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transient"
	}
}
