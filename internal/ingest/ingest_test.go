package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/catalog"
)

type fakeTranslator struct {
	fail map[string]bool
}

func (f *fakeTranslator) Translate(_ context.Context, text, language string) (string, error) {
	if f.fail[text] {
		return "", errors.New("provider down")
	}
	return language + ":" + text, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Red Fox!", "_prompt.txt"), "  A red fox in the snow \n")
	writeFile(t, filepath.Join(src, "Red Fox!", "Nano Banana Pro", "a.png"), "png")
	writeFile(t, filepath.Join(src, "Red Fox!", "Nano Banana Pro", "b.JPG"), "jpg")
	writeFile(t, filepath.Join(src, "Red Fox!", "Nano Banana Pro", "notes.txt"), "skip me")
	writeFile(t, filepath.Join(src, "Red Fox!", "Imagen", "x.webp"), "webp")
	writeFile(t, filepath.Join(src, "Red Fox!", ".hidden", "y.png"), "png")
	writeFile(t, filepath.Join(src, "Blue Whale", "_prompt.txt"), "A blue whale")
	writeFile(t, filepath.Join(src, "Blue Whale", "Imagen", "w.png"), "png")
	writeFile(t, filepath.Join(src, "no_prompt", "Imagen", "z.png"), "png")
	writeFile(t, filepath.Join(src, ".git", "_prompt.txt"), "ignored")
	return src
}

func TestSanitizeSlug(t *testing.T) {
	assert.Equal(t, "red_fox", SanitizeSlug("Red Fox!"))
	assert.Equal(t, "a_cat_on_mars", SanitizeSlug("A  Cat\ton Mars"))
	assert.Equal(t, "v2_tst", SanitizeSlug("v2_tést"))
	assert.Equal(t, "NanoBananaPro", NormalizeModelName("Nano Banana Pro"))
	assert.Equal(t, "Imagen", NormalizeModelName("Imagen"))
}

func TestIngesterRun(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemory()
	src := sourceTree(t)
	public := t.TempDir()

	ing := NewIngester(store, public, zap.NewNop(),
		WithTranslations(&fakeTranslator{fail: map[string]bool{"A blue whale": true}}, "es"))
	report, err := ing.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Prompts)
	assert.Equal(t, 4, report.ImagesAdded)
	assert.Equal(t, []string{"no_prompt"}, report.SkippedFolders)

	assert.FileExists(t, filepath.Join(public, "red_fox", "NanoBananaPro", "red_fox-NanoBananaPro-1.png"))
	assert.FileExists(t, filepath.Join(public, "red_fox", "NanoBananaPro", "red_fox-NanoBananaPro-2.JPG"))
	assert.FileExists(t, filepath.Join(public, "red_fox", "Imagen", "red_fox-Imagen-1.webp"))
	assert.NoDirExists(t, filepath.Join(public, "red_fox", ".hidden"))

	prompts, err := store.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.Equal(t, "blue_whale", prompts[0].Slug)
	assert.Equal(t, "red_fox", prompts[1].Slug)
	assert.Equal(t, "A red fox in the snow", prompts[1].Text)

	images, err := store.GetImagesForPrompt(ctx, prompts[1].ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	for _, img := range images {
		assert.Zero(t, img.ImpressionCount)
		assert.Contains(t, img.ImagePath, "/images/red_fox/")
	}

	text, ok, err := store.GetPromptText(ctx, prompts[1].ID, "es")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "es:A red fox in the snow", text)

	text, _, err = store.GetPromptText(ctx, prompts[0].ID, "es")
	require.NoError(t, err)
	assert.Equal(t, "[ES] A blue whale", text)

	again, err := ing.Run(ctx, src)
	require.NoError(t, err)
	assert.Zero(t, again.ImagesAdded)
	assert.Equal(t, 4, again.ImagesSkipped)
}

func TestChecks(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemory()
	_, err := NewIngester(store, t.TempDir(), zap.NewNop(),
		WithTranslations(&fakeTranslator{fail: map[string]bool{"A blue whale": true}}, "es")).Run(ctx, sourceTree(t))
	require.NoError(t, err)

	coverage, total, err := CheckImages(ctx, store, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, coverage, 1)
	assert.Equal(t, "blue_whale", coverage[0].Slug)
	assert.Equal(t, 1, coverage[0].Models)

	issues, total, err := CheckTranslations(ctx, store, "es")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, issues, 1)
	assert.Equal(t, ProblemPlaceholder, issues[0].Problem)

	issues, _, err = CheckTranslations(ctx, store, "fr")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, ProblemMissing, issues[0].Problem)

	issues, _, err = CheckTranslations(ctx, store, "en")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, ProblemIdentical, issues[0].Problem)
}

func TestTranslateAllOnlyBroken(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemory()
	_, err := NewIngester(store, t.TempDir(), zap.NewNop(),
		WithTranslations(&fakeTranslator{fail: map[string]bool{"A blue whale": true}}, "es")).Run(ctx, sourceTree(t))
	require.NoError(t, err)

	report, err := TranslateAll(ctx, store, &fakeTranslator{}, TranslateOptions{Language: "es", OnlyBroken: true}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Translated)
	assert.Equal(t, 1, report.Unchanged)

	issues, _, err := CheckTranslations(ctx, store, "es")
	require.NoError(t, err)
	assert.Empty(t, issues)

	report, err = TranslateAll(ctx, store, &fakeTranslator{fail: map[string]bool{"A red fox in the snow": true}},
		TranslateOptions{Language: "es"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Translated)
	assert.Equal(t, []string{"red_fox"}, report.Failed)
}

func TestOpenAITranslator(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}

		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if !assert.Len(t, req.Messages, 2) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Contains(t, req.Messages[0].Content, "Spanish")
		assert.Equal(t, "A red fox", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":" Un zorro rojo \n"}}]}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	tr := NewOpenAITranslatorWithConfig(cfg, "")

	out, err := tr.Translate(context.Background(), "A red fox", "es")
	require.NoError(t, err)
	assert.Equal(t, "Un zorro rojo", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAITranslatorPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("bad")
	cfg.BaseURL = srv.URL + "/v1"
	_, err := NewOpenAITranslatorWithConfig(cfg, "gpt-4o-mini").Translate(context.Background(), "A red fox", "es")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}
