package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Translator produces a localized variant of a prompt text
type Translator interface {
	Translate(ctx context.Context, text, language string) (string, error)
}

var languageNames = map[string]string{
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"it": "Italian",
}

// Placeholder is the variant stored when no translation could be produced
func Placeholder(language, text string) string {
	return placeholderPrefix(language) + text
}

func placeholderPrefix(language string) string {
	return "[" + strings.ToUpper(language) + "] "
}

// OpenAITranslator translates through the chat completion API
type OpenAITranslator struct {
	client     *openai.Client
	model      string
	maxRetries uint
}

// NewOpenAITranslator creates a translator using model
func NewOpenAITranslator(apiKey, model string) *OpenAITranslator {
	return NewOpenAITranslatorWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAITranslatorWithConfig creates a translator from a client config,
// which lets callers point it at a proxy or a test server
func NewOpenAITranslatorWithConfig(cfg openai.ClientConfig, model string) *OpenAITranslator {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAITranslator{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxRetries: 4,
	}
}

// Translate returns text translated into language. Rate limits and server
// errors are retried with exponential backoff.
func (t *OpenAITranslator) Translate(ctx context.Context, text, language string) (string, error) {
	name, ok := languageNames[language]
	if !ok {
		name = language
	}
	req := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("You are a professional translator. Translate the following text to %s. Return ONLY the translated text, nothing else.", name),
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.Retry(ctx, func() (string, error) {
		resp, err := t.client.CreateChatCompletion(ctx, req)
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != http.StatusTooManyRequests && apiErr.HTTPStatusCode < 500 {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(errors.New("translation returned no choices"))
		}
		out := strings.TrimSpace(resp.Choices[0].Message.Content)
		if out == "" {
			return "", backoff.Permanent(errors.New("translation returned empty content"))
		}
		return out, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(t.maxRetries))
}

// TranslateOptions selects which variants Translate rewrites
type TranslateOptions struct {
	Language string
	// OnlyBroken limits the run to missing or placeholder variants
	OnlyBroken bool
	// Delay between prompts, to stay under provider rate limits
	Delay time.Duration
}

// TranslateReport summarizes a translation run
type TranslateReport struct {
	Translated int
	Unchanged  int
	Failed     []string
}

// TranslateAll fills or overwrites the variant of every prompt for
// opts.Language. Failures are logged per prompt and skipped.
func TranslateAll(ctx context.Context, store Catalog, tr Translator, opts TranslateOptions, logger *zap.Logger) (*TranslateReport, error) {
	prompts, err := store.ListPrompts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	logger.Info("Translating prompts", zap.Int("prompts", len(prompts)), zap.String("language", opts.Language))

	report := &TranslateReport{}
	for n, p := range prompts {
		if opts.OnlyBroken {
			current, err := variant(ctx, store, p.ID, opts.Language)
			if err != nil {
				return report, err
			}
			if current != "" && !strings.HasPrefix(current, placeholderPrefix(opts.Language)) {
				report.Unchanged++
				continue
			}
		}

		translated, err := tr.Translate(ctx, p.Text, opts.Language)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.Error("Failed to translate prompt", zap.String("slug", p.Slug), zap.Error(err))
			report.Failed = append(report.Failed, p.Slug)
			continue
		}
		if err := store.UpsertTranslation(ctx, p.ID, opts.Language, translated); err != nil {
			return report, fmt.Errorf("failed to store translation of %s: %w", p.Slug, err)
		}
		report.Translated++
		logger.Info("Translated prompt", zap.String("slug", p.Slug))

		if opts.Delay > 0 && n < len(prompts)-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return report, nil
}

func variant(ctx context.Context, store Catalog, promptID uuid.UUID, language string) (string, error) {
	trs, err := store.ListTranslations(ctx, promptID)
	if err != nil {
		return "", fmt.Errorf("failed to list translations: %w", err)
	}
	for _, tr := range trs {
		if tr.Language == language {
			return tr.Text, nil
		}
	}
	return "", nil
}
