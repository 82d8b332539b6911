package ledger

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/imagearena/api/internal/models"
)

// ComputeStats aggregates votes and impressions per model across every
// prompt. Nothing is cached; the result reflects the store at call time.
// Models are ordered by name; callers choose their own presentation order.
func (l *Ledger) ComputeStats(ctx context.Context) (*models.AggregateStats, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ComputeStats")
	defer span.End()

	tallies, err := l.store.LoadTallies(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load tallies: %w", err)
	}

	stats := Aggregate(tallies)
	span.SetAttributes(
		attribute.Int64("total_votes", stats.TotalVotes),
		attribute.Int("models", len(stats.Models)),
	)
	return stats, nil
}

// Aggregate derives statistics from raw tallies.
//
//	winRate = votes(model) / total votes
//	ctr     = votes(model) / impressions(model)
//
// Either ratio is 0 when its denominator is 0. A model appears if it has
// votes or impressions.
func Aggregate(t *models.Tallies) *models.AggregateStats {
	stats := &models.AggregateStats{Models: []models.ModelStats{}}
	if t == nil {
		return stats
	}

	names := make(map[string]struct{}, len(t.Impressions))
	for name, n := range t.Votes {
		names[name] = struct{}{}
		stats.TotalVotes += n
	}
	for name, n := range t.Impressions {
		names[name] = struct{}{}
		stats.TotalImpressions += n
	}

	for name := range names {
		ms := models.ModelStats{
			Model:       name,
			Votes:       t.Votes[name],
			Impressions: t.Impressions[name],
		}
		if stats.TotalVotes > 0 {
			ms.WinRate = float64(ms.Votes) / float64(stats.TotalVotes)
		}
		if ms.Impressions > 0 {
			ms.CTR = float64(ms.Votes) / float64(ms.Impressions)
		}
		stats.Models = append(stats.Models, ms)
	}
	sort.Slice(stats.Models, func(i, j int) bool { return stats.Models[i].Model < stats.Models[j].Model })
	return stats
}

// SortByVotes orders model stats by votes descending, then by name
func SortByVotes(ms []models.ModelStats) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Votes != ms[j].Votes {
			return ms[i].Votes > ms[j].Votes
		}
		return ms[i].Model < ms[j].Model
	})
}
