package allocator

import (
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagearena/api/internal/models"
)

func img(id string, model string, count int64) models.Image {
	return models.Image{ID: uuid.MustParse(id), ModelName: model, ImpressionCount: count}
}

func modelNames(images []models.Image) []string {
	out := make([]string, 0, len(images))
	for _, i := range images {
		out = append(out, i.ModelName)
	}
	return out
}

func TestSelectCandidatesPicksLeastShownPerModel(t *testing.T) {
	images := []models.Image{
		img("00000000-0000-0000-0000-000000000001", "A", 5),
		img("00000000-0000-0000-0000-000000000002", "A", 2),
		img("00000000-0000-0000-0000-000000000003", "B", 1),
		img("00000000-0000-0000-0000-000000000004", "C", 9),
		img("00000000-0000-0000-0000-000000000005", "D", 0),
		img("00000000-0000-0000-0000-000000000006", "E", 3),
	}

	got := SelectCandidates(images, 4)

	require.Len(t, got, 4)
	assert.Equal(t, []string{"D", "B", "A", "E"}, modelNames(got))
	assert.Equal(t, uuid.MustParse("00000000-0000-0000-0000-000000000002"), got[2].ID)
}

func TestSelectCandidatesTieBreaks(t *testing.T) {
	images := []models.Image{
		img("00000000-0000-0000-0000-00000000000b", "B", 0),
		img("00000000-0000-0000-0000-00000000000a", "B", 0),
		img("00000000-0000-0000-0000-00000000000c", "A", 0),
	}

	got := SelectCandidates(images, 4)

	require.Len(t, got, 2)
	assert.Equal(t, []string{"A", "B"}, modelNames(got), "equal counts rank by model name")
	assert.Equal(t, uuid.MustParse("00000000-0000-0000-0000-00000000000a"), got[1].ID, "equal counts within a model pick the smaller id")
}

func TestSelectCandidatesEdgeCases(t *testing.T) {
	assert.Empty(t, SelectCandidates(nil, 4))
	assert.Empty(t, SelectCandidates([]models.Image{img("00000000-0000-0000-0000-000000000001", "A", 0)}, 0))

	single := SelectCandidates([]models.Image{img("00000000-0000-0000-0000-000000000001", "A", 7)}, 4)
	assert.Equal(t, []string{"A"}, modelNames(single))
}

func TestShuffleIsAPermutation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	images := []models.Image{
		img("00000000-0000-0000-0000-000000000001", "A", 0),
		img("00000000-0000-0000-0000-000000000002", "B", 0),
		img("00000000-0000-0000-0000-000000000003", "C", 0),
		img("00000000-0000-0000-0000-000000000004", "D", 0),
	}

	firstSeen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		shuffle(rng, images)
		assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, modelNames(images))
		firstSeen[images[0].ModelName] = true
	}
	assert.Len(t, firstSeen, 4, "every model should reach the first position")
}
