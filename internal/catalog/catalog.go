// Package catalog is the durable record of prompts, their per-model images
// and each image's impression counter. It also persists votes, which share
// the same database and foreign keys.
package catalog

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a prompt or image does not exist
	ErrNotFound = errors.New("catalog: not found")

	// ErrStaleCounters is returned by IncrementImpressions when at least one
	// counter no longer holds the value the caller read. Nothing is applied.
	ErrStaleCounters = errors.New("catalog: impression counters changed since read")

	// ErrCounterOverflow is returned when an increment would wrap a counter
	ErrCounterOverflow = errors.New("catalog: impression counter overflow")
)

// Increment reserves one impression on an image, conditional on the counter
// still holding Expected.
type Increment struct {
	ImageID  uuid.UUID
	Expected int64
}

// Coverage summarises how many distinct models and images a prompt has
type Coverage struct {
	PromptID uuid.UUID
	Slug     string
	Models   int
	Images   int
}

// ResetResult reports what a maintenance reset touched
type ResetResult struct {
	Votes        int64
	Images       int64
	Translations int64
	Prompts      int64
}

func validateIncrements(incs []Increment) error {
	seen := make(map[uuid.UUID]struct{}, len(incs))
	for _, inc := range incs {
		if _, dup := seen[inc.ImageID]; dup {
			return errors.New("catalog: duplicate image in increment set")
		}
		seen[inc.ImageID] = struct{}{}
		if inc.Expected < 0 {
			return errors.New("catalog: negative expected impression count")
		}
	}
	return nil
}
