package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/allocator"
	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/config"
	"github.com/imagearena/api/internal/ledger"
	"github.com/imagearena/api/internal/middleware"
	"github.com/imagearena/api/internal/models"
)

const testSecret = "handler-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type arenaFixture struct {
	store  *catalog.Memory
	prompt *models.Prompt
	router *gin.Engine
}

func newArenaFixture(t *testing.T, modelNames ...string) *arenaFixture {
	t.Helper()
	return newArenaFixtureWithConfig(t, &config.Config{DefaultLocale: "en", SupportedLocales: []string{"en", "es"}}, modelNames...)
}

func newArenaFixtureWithConfig(t *testing.T, cfg *config.Config, modelNames ...string) *arenaFixture {
	t.Helper()
	ctx := context.Background()
	store := catalog.NewMemory()

	prompt, err := store.UpsertPrompt(ctx, "red-fox", "A red fox in the snow")
	require.NoError(t, err)
	require.NoError(t, store.UpsertTranslation(ctx, prompt.ID, "es", "Un zorro rojo en la nieve"))
	for _, m := range modelNames {
		_, err := store.AddImage(ctx, &models.Image{
			PromptID:  prompt.ID,
			ModelName: m,
			ImagePath: "/images/red-fox/" + m + "/red-fox-" + m + "-1.png",
		})
		require.NoError(t, err)
	}

	logger := zap.NewNop()
	alloc := allocator.New(store, logger,
		allocator.WithRand(rand.New(rand.NewPCG(7, 11))),
		allocator.WithCanonicalLanguage(cfg.DefaultLocale),
	)
	l := ledger.New(store, logger, ledger.WithDeduper(ledger.NewMemoryDeduper(time.Hour)))
	admin, err := middleware.NewAdminCredentials("admin", "hunter22", "")
	require.NoError(t, err)

	arena := NewArenaHandler(alloc, l, cfg, logger)
	adm := NewAdminHandler(l, store, admin, testSecret, time.Hour, logger)
	health := NewHealthHandler(nil, nil, nil)

	r, err := NewEngine(cfg)
	require.NoError(t, err)
	r.GET("/health", health.Health)
	r.GET("/health/deep", health.DeepHealth)
	v1 := r.Group("/api/v1")
	v1.GET("/prompts/random", arena.RandomPrompt)
	v1.GET("/prompts/:id/candidates", arena.PromptCandidates)
	v1.POST("/votes", arena.CastVote)
	v1.POST("/admin/login", adm.Login)
	protected := v1.Group("/admin", middleware.Auth(testSecret, admin))
	protected.GET("/stats", middleware.RequirePermission(middleware.PermReadStats), adm.Stats)
	protected.POST("/reset-votes", middleware.RequirePermission(middleware.PermResetVotes), adm.ResetVotes)

	return &arenaFixture{store: store, prompt: prompt, router: r}
}

func (f *arenaFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestPromptCandidates(t *testing.T) {
	f := newArenaFixture(t, "A", "B", "C", "D", "E")

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/prompts/"+f.prompt.ID.String()+"/candidates?locale=es", nil))
	require.Equal(t, http.StatusOK, w.Code)

	alloc := decode[models.Allocation](t, w)
	assert.Equal(t, f.prompt.ID, alloc.PromptID)
	assert.Equal(t, "es", alloc.Language)
	assert.Equal(t, "Un zorro rojo en la nieve", alloc.PromptText)
	assert.Len(t, alloc.Candidates, models.DefaultMaxCandidates)
	assert.False(t, alloc.Degraded)

	tallies, err := f.store.LoadTallies(context.Background())
	require.NoError(t, err)
	var total int64
	for _, n := range tallies.Impressions {
		total += n
	}
	assert.EqualValues(t, models.DefaultMaxCandidates, total)
}

func TestPromptCandidatesLocaleFallback(t *testing.T) {
	f := newArenaFixture(t, "A", "B")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prompts/"+f.prompt.ID.String()+"/candidates?locale=fr", nil)
	alloc := decode[models.Allocation](t, f.do(t, req))
	assert.Equal(t, "en", alloc.Language)
	assert.Equal(t, "A red fox in the snow", alloc.PromptText)
	assert.True(t, alloc.Degraded)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/prompts/random", nil)
	req.Header.Set("Accept-Language", "es-MX,es;q=0.9,en;q=0.8")
	alloc = decode[models.Allocation](t, f.do(t, req))
	assert.Equal(t, "es", alloc.Language)
}

func TestPromptCandidatesErrors(t *testing.T) {
	f := newArenaFixture(t, "A", "B", "C", "D")

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/prompts/not-a-uuid/candidates", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/prompts/"+uuid.NewString()+"/candidates", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), middleware.ErrCodeNotFound)
}

func TestCastVote(t *testing.T) {
	f := newArenaFixture(t, "A", "B", "C", "D")

	body := CastVoteRequest{
		PromptID:    f.prompt.ID.String(),
		ChosenModel: "B",
		ShownModels: []string{"A", "B", "C", "D"},
		SessionID:   "s-1",
	}
	req := jsonRequest(t, http.MethodPost, "/api/v1/votes", body)
	req.Header.Set("Idempotency-Key", "k-1")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("X-Vercel-IP-Country", "es")
	w := f.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ack := decode[models.VoteAck](t, w)
	assert.NotEqual(t, uuid.Nil, ack.VoteID)

	votes := f.store.Votes()
	require.Len(t, votes, 1)
	assert.Equal(t, "B", votes[0].ChosenModel)
	assert.Equal(t, "s-1", votes[0].SessionID)
	assert.Equal(t, "ES", votes[0].Client.Country)
	assert.Equal(t, "desktop", votes[0].Client.Device)

	replay := jsonRequest(t, http.MethodPost, "/api/v1/votes", body)
	replay.Header.Set("Idempotency-Key", "k-1")
	w = f.do(t, replay)
	assert.Equal(t, http.StatusOK, w.Code)
	dup := decode[models.VoteAck](t, w)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, ack.VoteID, dup.VoteID)
	assert.Len(t, f.store.Votes(), 1)
}

func TestCastVoteIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	f := newArenaFixture(t, "A", "B")

	req := jsonRequest(t, http.MethodPost, "/api/v1/votes", CastVoteRequest{
		PromptID:    f.prompt.ID.String(),
		ChosenModel: "A",
		ShownModels: []string{"A", "B"},
	})
	req.RemoteAddr = "203.0.113.7:51000"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-IP", "1.2.3.4")
	w := f.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	votes := f.store.Votes()
	require.Len(t, votes, 1)
	assert.Equal(t, "203.0.113.7", votes[0].Client.IP)
}

func TestCastVoteHonorsForwardedForFromTrustedProxy(t *testing.T) {
	cfg := &config.Config{
		DefaultLocale:    "en",
		SupportedLocales: []string{"en"},
		TrustedProxies:   []string{"10.0.0.0/8"},
	}
	f := newArenaFixtureWithConfig(t, cfg, "A", "B")

	req := jsonRequest(t, http.MethodPost, "/api/v1/votes", CastVoteRequest{
		PromptID:    f.prompt.ID.String(),
		ChosenModel: "B",
		ShownModels: []string{"A", "B"},
	})
	req.RemoteAddr = "10.1.2.3:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	w := f.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	votes := f.store.Votes()
	require.Len(t, votes, 1)
	assert.Equal(t, "198.51.100.20", votes[0].Client.IP)
}

func TestNewEngineRejectsBadProxy(t *testing.T) {
	_, err := NewEngine(&config.Config{TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}

func TestCastVoteInvalid(t *testing.T) {
	f := newArenaFixture(t, "A", "B")

	cases := map[string]CastVoteRequest{
		"bad prompt id":     {PromptID: "nope", ChosenModel: "A", ShownModels: []string{"A", "B"}},
		"unknown prompt":    {PromptID: uuid.NewString(), ChosenModel: "A", ShownModels: []string{"A", "B"}},
		"chosen not shown":  {PromptID: f.prompt.ID.String(), ChosenModel: "Z", ShownModels: []string{"A", "B"}},
		"no shown models":   {PromptID: f.prompt.ID.String(), ChosenModel: "A"},
		"empty chosen name": {PromptID: f.prompt.ID.String(), ShownModels: []string{"A"}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, jsonRequest(t, http.MethodPost, "/api/v1/votes", body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), middleware.ErrCodeInvalidVote)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/votes", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), middleware.ErrCodeBadRequest)

	assert.Empty(t, f.store.Votes())
}

func TestAdminFlow(t *testing.T) {
	f := newArenaFixture(t, "A", "B")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/prompts/random", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	for _, chosen := range []string{"A", "A", "B"} {
		w := f.do(t, jsonRequest(t, http.MethodPost, "/api/v1/votes", CastVoteRequest{
			PromptID:    f.prompt.ID.String(),
			ChosenModel: chosen,
			ShownModels: []string{"A", "B"},
		}))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, jsonRequest(t, http.MethodPost, "/api/v1/admin/login", LoginRequest{Username: "admin", Password: "nope"}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, jsonRequest(t, http.MethodPost, "/api/v1/admin/login", LoginRequest{Username: "admin", Password: "hunter22"}))
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[LoginResponse](t, w)
	require.NotEmpty(t, login.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = f.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.AggregateStats](t, w)
	assert.EqualValues(t, 3, stats.TotalVotes)
	assert.EqualValues(t, 8, stats.TotalImpressions)
	require.Len(t, stats.Models, 2)
	assert.Equal(t, "A", stats.Models[0].Model)
	assert.EqualValues(t, 2, stats.Models[0].Votes)
	assert.EqualValues(t, 4, stats.Models[0].Impressions)
	assert.InDelta(t, 2.0/3.0, stats.Models[0].WinRate, 1e-9)
	assert.InDelta(t, 0.5, stats.Models[0].CTR, 1e-9)

	viewer, _, err := middleware.IssueToken(testSecret, "dashboard", middleware.RoleViewer, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/reset-votes", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, f.do(t, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/reset-votes", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = f.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	reset := decode[ResetResponse](t, w)
	assert.EqualValues(t, 3, reset.VotesDeleted)
	assert.EqualValues(t, 2, reset.ImagesReset)

	tallies, err := f.store.LoadTallies(ctx)
	require.NoError(t, err)
	assert.Empty(t, tallies.Votes)
	assert.Zero(t, tallies.Impressions["A"])
}

func TestHealth(t *testing.T) {
	f := newArenaFixture(t)

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), serviceName)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/health/deep", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "not configured", resp.Dependencies["database"])
	assert.Equal(t, "not configured", resp.Dependencies["nats"])
}

func TestPrimaryLanguage(t *testing.T) {
	assert.Equal(t, "es", primaryLanguage("es-MX,es;q=0.9"))
	assert.Equal(t, "en", primaryLanguage("EN"))
	assert.Equal(t, "", primaryLanguage(""))
}
