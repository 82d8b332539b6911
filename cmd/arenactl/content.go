package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/ingest"
)

func ingestCmd() *cobra.Command {
	var (
		publicDir string
		languages []string
	)
	cmd := &cobra.Command{
		Use:   "ingest [source-dir]",
		Short: "Load prompt folders and their images into the catalog",
		Long: `Each non-hidden folder of source-dir is a prompt. Its _prompt.txt holds the
canonical text and every sub-folder holds one model's images. Images are
copied to <public-dir>/<slug>/<model>/<slug>-<model>-<seq><ext>.

Examples:
  arenactl ingest ../images
  arenactl ingest ../images --translate es`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			source := e.cfg.ImagesSourceDir
			if len(args) == 1 {
				source = args[0]
			}
			if publicDir == "" {
				publicDir = e.cfg.ImagesPublicDir
			}

			store, err := e.store()
			if err != nil {
				return err
			}

			var opts []ingest.IngesterOption
			if len(languages) > 0 {
				if e.cfg.OpenAIAPIKey == "" {
					return errors.New("OPENAI_API_KEY is required for --translate")
				}
				opts = append(opts, ingest.WithTranslations(ingest.NewOpenAITranslator(e.cfg.OpenAIAPIKey, e.cfg.OpenAIModel), languages...))
			}

			report, err := ingest.NewIngester(store, publicDir, e.logger, opts...).Run(cmd.Context(), source)
			if err != nil {
				return err
			}
			fmt.Printf("Prompts: %d, images added: %d, already present: %d\n",
				report.Prompts, report.ImagesAdded, report.ImagesSkipped)
			for _, f := range report.SkippedFolders {
				fmt.Printf("  skipped %s (no _prompt.txt)\n", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&publicDir, "public-dir", "", "where images are copied (default IMAGES_PUBLIC_DIR)")
	cmd.Flags().StringSliceVar(&languages, "translate", nil, "also translate into these languages")
	return cmd
}

func translateCmd() *cobra.Command {
	var (
		lang       string
		onlyBroken bool
		delay      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Fill or overwrite localized prompt variants through OpenAI",
		RunE: withStore(func(ctx context.Context, e *env, store *catalog.Postgres) error {
			if e.cfg.OpenAIAPIKey == "" {
				return errors.New("OPENAI_API_KEY is missing")
			}
			tr := ingest.NewOpenAITranslator(e.cfg.OpenAIAPIKey, e.cfg.OpenAIModel)
			report, err := ingest.TranslateAll(ctx, store, tr, ingest.TranslateOptions{
				Language:   lang,
				OnlyBroken: onlyBroken,
				Delay:      delay,
			}, e.logger)
			if err != nil {
				return err
			}
			fmt.Printf("Translated: %d, unchanged: %d, failed: %d\n", report.Translated, report.Unchanged, len(report.Failed))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "es", "target language")
	cmd.Flags().BoolVar(&onlyBroken, "only-broken", false, "only missing or placeholder variants")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between prompts")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report catalog problems",
	}

	var minModels int
	images := &cobra.Command{
		Use:   "images",
		Short: "List prompts with too few models",
		RunE: withStore(func(ctx context.Context, _ *env, store *catalog.Postgres) error {
			issues, total, err := ingest.CheckImages(ctx, store, minModels)
			if err != nil {
				return err
			}
			for _, is := range issues {
				fmt.Printf("[WARNING] %s: %d models, %d images\n", is.Slug, is.Models, is.Images)
			}
			fmt.Printf("Prompts: %d, with fewer than %d models: %d\n", total, minModels, len(issues))
			return nil
		}),
	}
	images.Flags().IntVar(&minModels, "min-models", 4, "models a prompt should have")

	var lang string
	translations := &cobra.Command{
		Use:   "translations",
		Short: "List missing, placeholder or untranslated variants",
		RunE: withStore(func(ctx context.Context, _ *env, store *catalog.Postgres) error {
			issues, total, err := ingest.CheckTranslations(ctx, store, lang)
			if err != nil {
				return err
			}
			counts := map[string]int{}
			for _, is := range issues {
				counts[is.Problem]++
				fmt.Printf("[%s] %s %s\n", is.Problem, is.Slug, truncate(is.Text, 50))
			}
			fmt.Printf("Prompts: %d, missing: %d, placeholder: %d, identical: %d\n", total,
				counts[ingest.ProblemMissing], counts[ingest.ProblemPlaceholder], counts[ingest.ProblemIdentical])
			return nil
		}),
	}
	translations.Flags().StringVarP(&lang, "lang", "l", "es", "language to check")

	cmd.AddCommand(images, translations)
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
