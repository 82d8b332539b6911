// Package metrics holds the Prometheus collectors for allocation and voting.
// They register with the default registry, which /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arena"

var (
	// AllocationsTotal counts Allocate calls by outcome
	AllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "allocations_total",
		Help:      "Allocate calls by outcome (ok, degraded, not_found, transient, overflow, cancelled)",
	}, []string{"outcome"})

	// DegradedSelections counts allocations with fewer candidates than requested
	DegradedSelections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "degraded_selections_total",
		Help:      "Allocations that returned fewer distinct models than requested",
	})

	// AllocationConflicts counts attempts that lost a counter race and retried
	AllocationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "allocation_conflicts_total",
		Help:      "Allocation attempts retried because impression counters changed",
	})

	// AllocateDuration tracks end-to-end Allocate latency
	AllocateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "allocate_duration_seconds",
		Help:      "Allocate latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	// ImpressionsReserved counts impression increments committed
	ImpressionsReserved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "impressions_reserved_total",
		Help:      "Impression increments committed to the catalog",
	})

	// VotesRecorded counts RecordVote calls by outcome
	VotesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "votes_recorded_total",
		Help:      "RecordVote calls by outcome (ok, invalid, error)",
	}, []string{"outcome"})

	// DuplicateVotes counts votes absorbed by the idempotency check
	DuplicateVotes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "duplicate_votes_total",
		Help:      "Votes ignored because their idempotency key was already used",
	})
)
