package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/database"
	"github.com/imagearena/api/internal/eventbus"
	"github.com/imagearena/api/internal/ledger"
	"github.com/imagearena/api/internal/middleware"
)

func resetVotesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-votes",
		Short: "Delete every vote and zero every impression counter",
		RunE: withStore(func(ctx context.Context, e *env, store *catalog.Postgres) error {
			res, err := store.ResetVotes(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d votes, reset %d images\n", res.Votes, res.Images)
			return nil
		}),
	}
}

func resetCmd() *cobra.Command {
	var (
		yes    bool
		schema bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all prompts, translations, images and votes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to wipe the catalog without --yes")
			}
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if schema {
				if err := database.DropAll(e.cfg.DatabaseURL); err != nil {
					return err
				}
				fmt.Println("Schema dropped")
				return nil
			}

			store, err := e.store()
			if err != nil {
				return err
			}
			res, err := store.WipeAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d prompts, %d translations, %d images, %d votes\n",
				res.Prompts, res.Translations, res.Images, res.Votes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	cmd.Flags().BoolVar(&schema, "schema", false, "also drop the schema by rolling back every migration")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return database.RunMigrations(e.cfg.DatabaseURL, e.logger)
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to Postgres, Redis and NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Printf("%-9s FAIL %v\n", name, err)
					return
				}
				fmt.Printf("%-9s ok\n", name)
			}

			db, err := database.NewPostgres(e.cfg.DatabaseURL)
			if err == nil {
				var one int
				err = db.Pool().QueryRow(ctx, "SELECT 1").Scan(&one)
				db.Close()
			}
			report("postgres", err)

			rdb, err := database.NewRedis(e.cfg.RedisURL)
			if err == nil {
				err = rdb.Ping(ctx)
				_ = rdb.Close()
			}
			report("redis", err)

			bus, err := eventbus.Connect(e.cfg.NATSURL, e.logger)
			if err == nil {
				err = bus.Ping()
				bus.Close()
			}
			report("nats", err)

			if failed {
				return errors.New("some dependencies are unreachable")
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-model votes, impressions, win rate and CTR",
		RunE: withStore(func(ctx context.Context, e *env, store *catalog.Postgres) error {
			stats, err := ledger.New(store, e.logger).ComputeStats(ctx)
			if err != nil {
				return err
			}
			ledger.SortByVotes(stats.Models)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tVOTES\tIMPRESSIONS\tWIN RATE\tCTR")
			for _, m := range stats.Models {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.1f%%\n", m.Model, m.Votes, m.Impressions, m.WinRate*100, m.CTR*100)
			}
			fmt.Fprintf(w, "TOTAL\t%d\t%d\t\t\n", stats.TotalVotes, stats.TotalImpressions)
			return w.Flush()
		}),
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events [subject]",
		Short: "Show the most recent arena events",
		Long: `Reads the arena JetStream stream. Subject defaults to votes.recorded;
use impressions.reserved for allocations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			subject := eventbus.SubjectVoteRecorded
			if len(args) == 1 {
				subject = args[0]
			}

			bus, err := eventbus.Connect(e.cfg.NATSURL, e.logger)
			if err != nil {
				return err
			}
			defer bus.Close()

			events, err := bus.Read(subject, limit)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", subject, err)
			}
			for _, ev := range events {
				fmt.Printf("#%d %s %s %s\n", ev.Sequence, ev.Timestamp.Format(time.RFC3339), ev.Subject, ev.Data)
			}
			if len(events) == 0 {
				fmt.Println("No events")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [username]",
		Short: "Mint a bearer token for the admin endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := middleware.RolePermissions[role]; !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			token, expiresAt, err := middleware.IssueToken(e.cfg.JWTSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", middleware.RoleViewer, "viewer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
