package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/ledger"
	"github.com/imagearena/api/internal/middleware"
)

// VoteResetter clears recorded votes and impression counters
type VoteResetter interface {
	ResetVotes(ctx context.Context) (*catalog.ResetResult, error)
}

// AdminHandler serves the operator endpoints
type AdminHandler struct {
	ledger    *ledger.Ledger
	resetter  VoteResetter
	admin     *middleware.AdminCredentials
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(l *ledger.Ledger, resetter VoteResetter, admin *middleware.AdminCredentials, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:    l,
		resetter:  resetter,
		admin:     admin,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// LoginRequest is the request body for admin login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries a bearer token for the admin endpoints
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResetResponse reports what a vote reset removed
type ResetResponse struct {
	VotesDeleted int64 `json:"votes_deleted"`
	ImagesReset  int64 `json:"images_reset"`
}

// Login godoc
// @Summary      Admin login
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        credentials  body      LoginRequest  true  "Credentials"
// @Success      200          {object}  LoginResponse
// @Failure      401          {object}  middleware.APIError
// @Router       /admin/login [post]
func (h *AdminHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, "Username and password are required")
		return
	}

	if !h.admin.Check(req.Username, req.Password) {
		h.logger.Warn("Admin login failed", zap.String("username", req.Username), zap.String("ip", c.ClientIP()))
		middleware.Unauthorized(c, "Invalid credentials")
		return
	}

	token, expiresAt, err := h.issue(req.Username)
	if err != nil {
		h.logger.Error("Failed to issue admin token", zap.Error(err))
		middleware.InternalError(c, "Could not issue token")
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AdminHandler) issue(username string) (string, time.Time, error) {
	return middleware.IssueToken(h.jwtSecret, username, middleware.RoleAdmin, h.tokenTTL)
}

// Stats godoc
// @Summary      Aggregate model statistics
// @Description  Votes, impressions, win rate and click-through rate per model, ordered by votes
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.AggregateStats
// @Failure      401  {object}  middleware.APIError
// @Failure      503  {object}  middleware.APIError
// @Router       /admin/stats [get]
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "Stats")
	defer span.End()

	stats, err := h.ledger.ComputeStats(ctx)
	if err != nil {
		h.logger.Error("Failed to compute stats", zap.Error(err))
		middleware.RespondErrorWithRetry(c, http.StatusServiceUnavailable, middleware.ErrCodeStoreUnavailable,
			"Could not read statistics", 1000)
		return
	}
	ledger.SortByVotes(stats.Models)

	c.JSON(http.StatusOK, stats)
}

// ResetVotes godoc
// @Summary      Reset votes
// @Description  Deletes every vote and zeroes every impression counter
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  ResetResponse
// @Failure      403  {object}  middleware.APIError
// @Router       /admin/reset-votes [post]
func (h *AdminHandler) ResetVotes(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ResetVotes")
	defer span.End()

	res, err := h.resetter.ResetVotes(ctx)
	if err != nil {
		h.logger.Error("Failed to reset votes", zap.Error(err))
		middleware.InternalError(c, "Could not reset votes")
		return
	}

	user, _ := middleware.GetUserID(c)
	h.logger.Warn("Votes reset",
		zap.String("user", user),
		zap.Int64("votes_deleted", res.Votes),
		zap.Int64("images_reset", res.Images),
	)

	c.JSON(http.StatusOK, ResetResponse{VotesDeleted: res.Votes, ImagesReset: res.Images})
}
