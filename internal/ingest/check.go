package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/imagearena/api/internal/models"
)

// Translation problems reported by CheckTranslations
const (
	ProblemMissing     = "missing"
	ProblemPlaceholder = "placeholder"
	ProblemIdentical   = "identical"
)

// CoverageIssue is a prompt with fewer distinct models than wanted
type CoverageIssue struct {
	Slug   string
	Models int
	Images int
}

// TranslationIssue is a prompt whose variant needs attention
type TranslationIssue struct {
	Slug    string
	Problem string
	Text    string
}

// CheckImages lists prompts with fewer than minModels distinct models
func CheckImages(ctx context.Context, store Catalog, minModels int) ([]CoverageIssue, int, error) {
	if minModels <= 0 {
		minModels = models.DefaultMaxCandidates
	}
	coverage, err := store.PromptCoverage(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read coverage: %w", err)
	}

	var issues []CoverageIssue
	for _, c := range coverage {
		if c.Models < minModels {
			issues = append(issues, CoverageIssue{Slug: c.Slug, Models: c.Models, Images: c.Images})
		}
	}
	return issues, len(coverage), nil
}

// CheckTranslations lists prompts whose variant for language is missing,
// still a placeholder, or identical to the canonical text
func CheckTranslations(ctx context.Context, store Catalog, language string) ([]TranslationIssue, int, error) {
	prompts, err := store.ListPrompts(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list prompts: %w", err)
	}

	var issues []TranslationIssue
	for _, p := range prompts {
		text, err := variant(ctx, store, p.ID, language)
		if err != nil {
			return nil, 0, err
		}
		switch {
		case text == "":
			issues = append(issues, TranslationIssue{Slug: p.Slug, Problem: ProblemMissing})
		case strings.HasPrefix(text, strings.TrimSpace(placeholderPrefix(language))):
			issues = append(issues, TranslationIssue{Slug: p.Slug, Problem: ProblemPlaceholder, Text: text})
		case text == p.Text:
			issues = append(issues, TranslationIssue{Slug: p.Slug, Problem: ProblemIdentical, Text: text})
		}
	}
	return issues, len(prompts), nil
}
