package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/allocator"
	"github.com/imagearena/api/internal/config"
	"github.com/imagearena/api/internal/ledger"
	"github.com/imagearena/api/internal/middleware"
	"github.com/imagearena/api/internal/models"
)

var tracer = otel.Tracer("github.com/imagearena/api/internal/handlers")

// ArenaHandler serves prompts with their candidates and takes votes
type ArenaHandler struct {
	allocator     *allocator.Allocator
	ledger        *ledger.Ledger
	defaultLocale string
	locales       map[string]struct{}
	logger        *zap.Logger
}

// NewArenaHandler creates a new arena handler
func NewArenaHandler(alloc *allocator.Allocator, l *ledger.Ledger, cfg *config.Config, logger *zap.Logger) *ArenaHandler {
	locales := make(map[string]struct{}, len(cfg.SupportedLocales))
	for _, loc := range cfg.SupportedLocales {
		locales[loc] = struct{}{}
	}
	return &ArenaHandler{
		allocator:     alloc,
		ledger:        l,
		defaultLocale: cfg.DefaultLocale,
		locales:       locales,
		logger:        logger,
	}
}

// CastVoteRequest is the request body for casting a vote
type CastVoteRequest struct {
	PromptID         string   `json:"prompt_id"`
	ChosenModel      string   `json:"chosen_model"`
	ShownModels      []string `json:"shown_models"`
	SessionID        string   `json:"session_id"`
	ReservationToken string   `json:"reservation_token"`
}

// RandomPrompt godoc
// @Summary      Serve a random prompt
// @Description  Picks a prompt uniformly at random and reserves impressions for its least-shown candidates
// @Tags         arena
// @Produce      json
// @Param        locale  query     string  false  "Locale of the prompt text"
// @Success      200     {object}  models.Allocation
// @Failure      404     {object}  middleware.APIError
// @Failure      503     {object}  middleware.APIError
// @Router       /prompts/random [get]
func (h *ArenaHandler) RandomPrompt(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "RandomPrompt")
	defer span.End()

	locale := h.locale(c)
	span.SetAttributes(attribute.String("locale", locale))

	alloc, err := h.allocator.AllocateRandom(ctx, locale)
	if err != nil {
		h.allocationError(c, err)
		return
	}

	c.JSON(http.StatusOK, alloc)
}

// PromptCandidates godoc
// @Summary      Serve candidates for a prompt
// @Description  Reserves impressions for the least-shown candidates of one prompt
// @Tags         arena
// @Produce      json
// @Param        id      path      string  true   "Prompt ID"
// @Param        locale  query     string  false  "Locale of the prompt text"
// @Success      200     {object}  models.Allocation
// @Failure      400     {object}  middleware.APIError
// @Failure      404     {object}  middleware.APIError
// @Failure      503     {object}  middleware.APIError
// @Router       /prompts/{id}/candidates [get]
func (h *ArenaHandler) PromptCandidates(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "PromptCandidates")
	defer span.End()

	promptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		middleware.BadRequest(c, "Invalid prompt ID")
		return
	}

	locale := h.locale(c)
	span.SetAttributes(
		attribute.String("prompt_id", promptID.String()),
		attribute.String("locale", locale),
	)

	alloc, err := h.allocator.Allocate(ctx, promptID, locale)
	if err != nil {
		h.allocationError(c, err)
		return
	}

	c.JSON(http.StatusOK, alloc)
}

// CastVote godoc
// @Summary      Record a vote
// @Description  Records which of the shown models the viewer preferred
// @Tags         arena
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header    string           false  "Replay-safe key"
// @Param        vote             body      CastVoteRequest  true   "Vote"
// @Success      201              {object}  models.VoteAck
// @Success      200              {object}  models.VoteAck   "Duplicate of an earlier vote"
// @Failure      400              {object}  middleware.APIError
// @Failure      429              {object}  middleware.APIError
// @Router       /votes [post]
func (h *ArenaHandler) CastVote(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "CastVote")
	defer span.End()

	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, "Malformed vote body")
		return
	}

	promptID, err := uuid.Parse(strings.TrimSpace(req.PromptID))
	if err != nil {
		middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeInvalidVote,
			"Invalid vote", "prompt_id is not a valid id")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.GetHeader("X-Session-ID")
	}

	ack, err := h.ledger.RecordVote(ctx, &models.VoteRequest{
		PromptID:         promptID,
		ChosenModel:      req.ChosenModel,
		ShownModels:      req.ShownModels,
		SessionID:        sessionID,
		ReservationToken: req.ReservationToken,
		IdempotencyKey:   c.GetHeader("Idempotency-Key"),
		Client:           clientMetadata(c),
	})
	if err != nil {
		var verr *ledger.ValidationError
		switch {
		case errors.As(err, &verr):
			middleware.RespondErrorWithDetails(c, http.StatusBadRequest, middleware.ErrCodeInvalidVote,
				"Invalid vote", verr.Field+" "+verr.Reason)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			middleware.RespondError(c, http.StatusRequestTimeout, middleware.ErrCodeBadRequest, "Request cancelled")
		default:
			h.logger.Error("Failed to record vote",
				zap.String("prompt_id", promptID.String()),
				zap.Error(err),
			)
			middleware.RespondErrorWithRetry(c, http.StatusServiceUnavailable, middleware.ErrCodeStoreUnavailable,
				"Could not record vote, please retry", 500)
		}
		return
	}

	span.SetAttributes(attribute.Bool("duplicate", ack.Duplicate))
	if ack.Duplicate {
		c.JSON(http.StatusOK, ack)
		return
	}
	c.JSON(http.StatusCreated, ack)
}

// locale resolves the requested locale, falling back to the default for
// missing or unsupported values
func (h *ArenaHandler) locale(c *gin.Context) string {
	loc := strings.ToLower(strings.TrimSpace(c.Query("locale")))
	if loc == "" {
		loc = primaryLanguage(c.GetHeader("Accept-Language"))
	}
	if _, ok := h.locales[loc]; ok {
		return loc
	}
	return h.defaultLocale
}

func (h *ArenaHandler) allocationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, allocator.ErrNotFound):
		middleware.NotFound(c, "Prompt not found or has no images")
	case errors.Is(err, allocator.ErrTransientStoreFailure):
		middleware.TransientStoreFailure(c)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		middleware.RespondError(c, http.StatusRequestTimeout, middleware.ErrCodeBadRequest, "Request cancelled")
	default:
		h.logger.Error("Allocation failed", zap.Error(err))
		middleware.InternalError(c, "Could not allocate candidates")
	}
}

// primaryLanguage returns the primary subtag of the first Accept-Language entry
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(strings.TrimSpace(first), "-")
	return strings.ToLower(first)
}

// clientMetadata collects what the request tells us about the voter.
// Geo headers are set by the edge (Vercel or Cloudflare) when present.
func clientMetadata(c *gin.Context) models.ClientMetadata {
	country := c.GetHeader("X-Vercel-IP-Country")
	if country == "" {
		country = c.GetHeader("CF-IPCountry")
	}
	region := c.GetHeader("X-Vercel-IP-Country-Region")
	if region == "" {
		region = c.GetHeader("X-Vercel-IP-City")
	}
	return ledger.NewClientMetadata(c.ClientIP(), c.Request.UserAgent(), country, region)
}
