// Package ingest loads prompt folders into the catalog and keeps their
// localized variants and coverage in shape.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/models"
)

const (
	promptFileName = "_prompt.txt"
	sourceLanguage = "en"
	publicPrefix   = "/images"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	slugInvalid   = regexp.MustCompile(`[^a-z0-9_]`)
	imageFile     = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|webp)$`)
)

// modelAliases maps folder names to canonical model names
var modelAliases = map[string]string{
	"Nano Banana Pro": "NanoBananaPro",
}

// Catalog is the subset of the catalog store ingestion and checks need
type Catalog interface {
	UpsertPrompt(ctx context.Context, slug, text string) (*models.Prompt, error)
	UpsertTranslation(ctx context.Context, promptID uuid.UUID, language, text string) error
	AddImage(ctx context.Context, img *models.Image) (bool, error)
	ListPrompts(ctx context.Context) ([]models.Prompt, error)
	ListTranslations(ctx context.Context, promptID uuid.UUID) ([]models.PromptTranslation, error)
	PromptCoverage(ctx context.Context) ([]catalog.Coverage, error)
}

// SanitizeSlug lowercases name, turns whitespace runs into underscores and
// drops everything outside [a-z0-9_]
func SanitizeSlug(name string) string {
	s := whitespaceRun.ReplaceAllString(strings.ToLower(name), "_")
	return slugInvalid.ReplaceAllString(s, "")
}

// NormalizeModelName maps a model folder name to its canonical model name
func NormalizeModelName(name string) string {
	if alias, ok := modelAliases[name]; ok {
		return alias
	}
	return name
}

// Report summarizes one ingestion run
type Report struct {
	Prompts        int
	ImagesAdded    int
	ImagesSkipped  int
	SkippedFolders []string
}

// Ingester copies prompt folders into the public image directory and
// records them in the catalog
type Ingester struct {
	store      Catalog
	publicDir  string
	translator Translator
	languages  []string
	logger     *zap.Logger
}

// IngesterOption configures an Ingester
type IngesterOption func(*Ingester)

// WithTranslations produces a variant for each of languages while ingesting.
// Failed translations fall back to a placeholder that CheckTranslations reports.
func WithTranslations(t Translator, languages ...string) IngesterOption {
	return func(i *Ingester) {
		i.translator = t
		i.languages = languages
	}
}

// NewIngester creates an ingester writing images under publicDir
func NewIngester(store Catalog, publicDir string, logger *zap.Logger, opts ...IngesterOption) *Ingester {
	i := &Ingester{store: store, publicDir: publicDir, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run ingests every non-hidden folder of sourceDir. A folder is a prompt when
// it holds a _prompt.txt; each of its sub-folders holds one model's images.
// Images whose public path is already recorded are skipped, so Run can be
// repeated after adding new folders.
func (i *Ingester) Run(ctx context.Context, sourceDir string) (*Report, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	report := &Report{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		folder := filepath.Join(sourceDir, entry.Name())
		raw, err := os.ReadFile(filepath.Join(folder, promptFileName))
		if os.IsNotExist(err) {
			i.logger.Warn("Skipping folder without prompt file", zap.String("folder", entry.Name()))
			report.SkippedFolders = append(report.SkippedFolders, entry.Name())
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to read prompt file of %s: %w", entry.Name(), err)
		}

		if err := i.ingestPrompt(ctx, folder, entry.Name(), strings.TrimSpace(string(raw)), report); err != nil {
			return report, err
		}
		report.Prompts++
	}

	i.logger.Info("Ingestion complete",
		zap.Int("prompts", report.Prompts),
		zap.Int("images_added", report.ImagesAdded),
		zap.Int("images_skipped", report.ImagesSkipped),
	)
	return report, nil
}

func (i *Ingester) ingestPrompt(ctx context.Context, folder, name, text string, report *Report) error {
	slug := SanitizeSlug(name)
	if slug == "" {
		i.logger.Warn("Skipping folder with empty slug", zap.String("folder", name))
		report.SkippedFolders = append(report.SkippedFolders, name)
		return nil
	}

	prompt, err := i.store.UpsertPrompt(ctx, slug, text)
	if err != nil {
		return fmt.Errorf("failed to upsert prompt %s: %w", slug, err)
	}
	if err := i.store.UpsertTranslation(ctx, prompt.ID, sourceLanguage, text); err != nil {
		return fmt.Errorf("failed to upsert %s variant of %s: %w", sourceLanguage, slug, err)
	}
	for _, lang := range i.languages {
		translated, err := i.translator.Translate(ctx, text, lang)
		if err != nil {
			i.logger.Warn("Translation failed, storing placeholder",
				zap.String("slug", slug),
				zap.String("language", lang),
				zap.Error(err),
			)
			translated = Placeholder(lang, text)
		}
		if err := i.store.UpsertTranslation(ctx, prompt.ID, lang, translated); err != nil {
			return fmt.Errorf("failed to upsert %s variant of %s: %w", lang, slug, err)
		}
	}

	modelDirs, err := os.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("failed to read prompt folder %s: %w", name, err)
	}
	for _, md := range modelDirs {
		if !md.IsDir() || strings.HasPrefix(md.Name(), ".") {
			continue
		}
		if err := i.ingestModel(ctx, prompt, filepath.Join(folder, md.Name()), NormalizeModelName(md.Name()), report); err != nil {
			return err
		}
	}

	i.logger.Info("Processed prompt", zap.String("slug", slug))
	return nil
}

func (i *Ingester) ingestModel(ctx context.Context, prompt *models.Prompt, dir, model string, report *Report) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read model folder %s: %w", dir, err)
	}

	targetDir := filepath.Join(i.publicDir, prompt.Slug, model)
	seq := 0
	for _, f := range files {
		if f.IsDir() || !imageFile.MatchString(f.Name()) {
			continue
		}
		seq++

		fileName := fmt.Sprintf("%s-%s-%d%s", prompt.Slug, model, seq, filepath.Ext(f.Name()))
		img := &models.Image{
			PromptID:  prompt.ID,
			ModelName: model,
			ImagePath: path.Join(publicPrefix, prompt.Slug, model, fileName),
		}

		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", targetDir, err)
		}
		if err := copyFile(filepath.Join(dir, f.Name()), filepath.Join(targetDir, fileName)); err != nil {
			return err
		}

		added, err := i.store.AddImage(ctx, img)
		if err != nil {
			return fmt.Errorf("failed to record image %s: %w", img.ImagePath, err)
		}
		if added {
			report.ImagesAdded++
		} else {
			report.ImagesSkipped++
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
