package catalog

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagearena/api/internal/models"
)

func seedPrompt(t *testing.T, m *Memory, slug string, modelNames ...string) (*models.Prompt, []models.Image) {
	t.Helper()
	ctx := context.Background()

	p, err := m.UpsertPrompt(ctx, slug, "text of "+slug)
	require.NoError(t, err)

	var imgs []models.Image
	for _, name := range modelNames {
		img := &models.Image{PromptID: p.ID, ModelName: name, ImagePath: "/images/" + slug + "/" + name + ".png"}
		added, err := m.AddImage(ctx, img)
		require.NoError(t, err)
		require.True(t, added)
		imgs = append(imgs, *img)
	}
	return p, imgs
}

func TestMemoryIncrementImpressionsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, imgs := seedPrompt(t, m, "cat", "A", "B")

	err := m.IncrementImpressions(ctx, []Increment{
		{ImageID: imgs[0].ID, Expected: 0},
		{ImageID: imgs[1].ID, Expected: 7},
	})
	assert.ErrorIs(t, err, ErrStaleCounters)

	got, err := m.GetImagesForPrompt(ctx, p.ID)
	require.NoError(t, err)
	for _, img := range got {
		assert.Zero(t, img.ImpressionCount, "no partial increment may be visible")
	}

	require.NoError(t, m.IncrementImpressions(ctx, []Increment{
		{ImageID: imgs[0].ID, Expected: 0},
		{ImageID: imgs[1].ID, Expected: 0},
	}))
	got, err = m.GetImagesForPrompt(ctx, p.ID)
	require.NoError(t, err)
	for _, img := range got {
		assert.Equal(t, int64(1), img.ImpressionCount)
	}
}

func TestMemoryIncrementImpressionsRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, imgs := seedPrompt(t, m, "dog", "A")

	err := m.IncrementImpressions(ctx, []Increment{
		{ImageID: imgs[0].ID, Expected: 0},
		{ImageID: imgs[0].ID, Expected: 0},
	})
	assert.Error(t, err)

	err = m.IncrementImpressions(ctx, []Increment{{ImageID: uuid.New(), Expected: 0}})
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = m.IncrementImpressions(cancelled, []Increment{{ImageID: imgs[0].ID, Expected: 0}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryIncrementImpressionsOverflow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, err := m.UpsertPrompt(ctx, "max", "max")
	require.NoError(t, err)

	img := &models.Image{PromptID: p.ID, ModelName: "A", ImagePath: "a.png", ImpressionCount: math.MaxInt64}
	_, err = m.AddImage(ctx, img)
	require.NoError(t, err)

	err = m.IncrementImpressions(ctx, []Increment{{ImageID: img.ID, Expected: math.MaxInt64}})
	assert.ErrorIs(t, err, ErrCounterOverflow)
}

func TestMemoryInsertVoteRequiresPrompt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.InsertVote(ctx, &models.Vote{ID: uuid.New(), PromptID: uuid.New(), ChosenModel: "A", ShownModels: []string{"A"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, m.Votes())
}

func TestMemoryTallies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, imgs := seedPrompt(t, m, "tree", "A", "B")

	require.NoError(t, m.IncrementImpressions(ctx, []Increment{
		{ImageID: imgs[0].ID, Expected: 0},
		{ImageID: imgs[1].ID, Expected: 0},
	}))
	require.NoError(t, m.InsertVote(ctx, &models.Vote{ID: uuid.New(), PromptID: p.ID, ChosenModel: "A", ShownModels: []string{"A", "B"}}))

	tallies, err := m.LoadTallies(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 1}, tallies.Votes)
	assert.Equal(t, map[string]int64{"A": 1, "B": 1}, tallies.Impressions)
}

func TestMemoryUpsertAndTranslations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.UpsertPrompt(ctx, "sunset", "a sunset")
	require.NoError(t, err)
	second, err := m.UpsertPrompt(ctx, "sunset", "a red sunset")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a red sunset", second.Text)

	_, ok, err := m.GetPromptText(ctx, first.ID, "es")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.UpsertTranslation(ctx, first.ID, "es", "una puesta de sol"))
	text, ok, err := m.GetPromptText(ctx, first.ID, "es")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "una puesta de sol", text)

	assert.ErrorIs(t, m.UpsertTranslation(ctx, uuid.New(), "es", "x"), ErrNotFound)
}

func TestMemoryAddImageSkipsDuplicatePath(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, _ := seedPrompt(t, m, "lake", "A")

	dup := &models.Image{PromptID: p.ID, ModelName: "A", ImagePath: "/images/lake/A.png"}
	added, err := m.AddImage(ctx, dup)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, uuid.Nil, dup.ID, "skipped images get no id")

	cov, err := m.PromptCoverage(ctx)
	require.NoError(t, err)
	require.Len(t, cov, 1)
	assert.Equal(t, 1, cov[0].Models)
	assert.Equal(t, 1, cov[0].Images)
}

func TestMemoryResetAndWipe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p, imgs := seedPrompt(t, m, "moon", "A", "B")
	require.NoError(t, m.UpsertTranslation(ctx, p.ID, "es", "luna"))
	require.NoError(t, m.IncrementImpressions(ctx, []Increment{{ImageID: imgs[0].ID, Expected: 0}}))
	require.NoError(t, m.InsertVote(ctx, &models.Vote{ID: uuid.New(), PromptID: p.ID, ChosenModel: "A", ShownModels: []string{"A"}}))

	res, err := m.ResetVotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Votes)
	assert.Empty(t, m.Votes())
	tallies, err := m.LoadTallies(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tallies.Impressions["A"])

	res, err = m.WipeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, &ResetResult{Images: 2, Translations: 1, Prompts: 1}, res)

	n, err := m.CountPrompts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = m.PromptIDAt(ctx, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
