package allocator

import (
	"bytes"
	"math/rand/v2"
	"sort"

	"github.com/imagearena/api/internal/models"
)

// SelectCandidates picks at most limit images, one per model, preferring the
// least-shown ones.
//
// Each model is represented by its image with the lowest impression count,
// ties going to the smaller image id. Representatives are then ranked by
// impression count, ties going to the model name, and the first limit are
// kept. The result is deterministic for a given input.
func SelectCandidates(images []models.Image, limit int) []models.Image {
	if limit <= 0 || len(images) == 0 {
		return nil
	}

	best := make(map[string]models.Image)
	for _, img := range images {
		cur, ok := best[img.ModelName]
		if !ok || lessImage(img, cur) {
			best[img.ModelName] = img
		}
	}

	reps := make([]models.Image, 0, len(best))
	for _, img := range best {
		reps = append(reps, img)
	}
	sort.Slice(reps, func(i, j int) bool {
		if reps[i].ImpressionCount != reps[j].ImpressionCount {
			return reps[i].ImpressionCount < reps[j].ImpressionCount
		}
		return reps[i].ModelName < reps[j].ModelName
	})

	if len(reps) > limit {
		reps = reps[:limit]
	}
	return reps
}

func lessImage(a, b models.Image) bool {
	if a.ImpressionCount != b.ImpressionCount {
		return a.ImpressionCount < b.ImpressionCount
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// shuffle applies a uniform Fisher-Yates permutation
func shuffle(rng *rand.Rand, images []models.Image) {
	for i := len(images) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		images[i], images[j] = images[j], images[i]
	}
}
