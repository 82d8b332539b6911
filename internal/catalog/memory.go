package catalog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imagearena/api/internal/models"
)

// Memory is an in-process catalog and vote store. It backs STORE_BACKEND=memory
// and the unit tests; all methods are safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	prompts      map[uuid.UUID]models.Prompt
	slugs        map[string]uuid.UUID
	translations map[uuid.UUID]map[string]models.PromptTranslation
	images       map[uuid.UUID]models.Image
	imagePaths   map[string]uuid.UUID
	votes        []models.Vote
	now          func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		prompts:      make(map[uuid.UUID]models.Prompt),
		slugs:        make(map[string]uuid.UUID),
		translations: make(map[uuid.UUID]map[string]models.PromptTranslation),
		images:       make(map[uuid.UUID]models.Image),
		imagePaths:   make(map[string]uuid.UUID),
		now:          time.Now,
	}
}

// GetPrompt returns a prompt by id
func (m *Memory) GetPrompt(ctx context.Context, promptID uuid.UUID) (*models.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prompts[promptID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// GetPromptText returns the localized text of a prompt, if a variant exists
func (m *Memory) GetPromptText(ctx context.Context, promptID uuid.UUID, language string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.prompts[promptID]; !ok {
		return "", false, ErrNotFound
	}
	tr, ok := m.translations[promptID][language]
	if !ok {
		return "", false, nil
	}
	return tr.Text, true, nil
}

// GetImagesForPrompt returns every image of a prompt ordered by id
func (m *Memory) GetImagesForPrompt(ctx context.Context, promptID uuid.UUID) ([]models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Image
	for _, img := range m.images {
		if img.PromptID == promptID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// IncrementImpressions applies every increment or none of them
func (m *Memory) IncrementImpressions(ctx context.Context, incs []Increment) error {
	if err := validateIncrements(incs); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inc := range incs {
		img, ok := m.images[inc.ImageID]
		if !ok {
			return fmt.Errorf("image %s: %w", inc.ImageID, ErrNotFound)
		}
		if img.ImpressionCount != inc.Expected {
			return ErrStaleCounters
		}
		if img.ImpressionCount == math.MaxInt64 {
			return ErrCounterOverflow
		}
	}
	for _, inc := range incs {
		img := m.images[inc.ImageID]
		img.ImpressionCount++
		m.images[inc.ImageID] = img
	}
	return nil
}

// CountPrompts returns the number of prompts
func (m *Memory) CountPrompts(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.prompts)), nil
}

// PromptIDAt returns the id of the prompt at offset in id order
func (m *Memory) PromptIDAt(ctx context.Context, offset int64) (uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.sortedPromptIDs()
	if offset < 0 || offset >= int64(len(ids)) {
		return uuid.Nil, ErrNotFound
	}
	return ids[offset], nil
}

// InsertVote appends an immutable vote record
func (m *Memory) InsertVote(ctx context.Context, vote *models.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prompts[vote.PromptID]; !ok {
		return fmt.Errorf("prompt %s: %w", vote.PromptID, ErrNotFound)
	}
	v := *vote
	v.ShownModels = append([]string(nil), vote.ShownModels...)
	m.votes = append(m.votes, v)
	return nil
}

// LoadTallies returns per-model vote and impression totals
func (m *Memory) LoadTallies(ctx context.Context) (*models.Tallies, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := &models.Tallies{
		Votes:       make(map[string]int64),
		Impressions: make(map[string]int64),
	}
	for _, v := range m.votes {
		t.Votes[v.ChosenModel]++
	}
	for _, img := range m.images {
		t.Impressions[img.ModelName] += img.ImpressionCount
	}
	return t, nil
}

// Votes returns a copy of every stored vote
func (m *Memory) Votes() []models.Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Vote(nil), m.votes...)
}

// UpsertPrompt creates a prompt or updates the text of the one with slug
func (m *Memory) UpsertPrompt(ctx context.Context, slug, text string) (*models.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if id, ok := m.slugs[slug]; ok {
		p := m.prompts[id]
		p.Text = text
		p.UpdatedAt = now
		m.prompts[id] = p
		return &p, nil
	}

	p := models.Prompt{ID: uuid.New(), Slug: slug, Text: text, CreatedAt: now, UpdatedAt: now}
	m.prompts[p.ID] = p
	m.slugs[slug] = p.ID
	return &p, nil
}

// UpsertTranslation sets the text of a prompt's variant for language
func (m *Memory) UpsertTranslation(ctx context.Context, promptID uuid.UUID, language, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prompts[promptID]; !ok {
		return ErrNotFound
	}
	byLang, ok := m.translations[promptID]
	if !ok {
		byLang = make(map[string]models.PromptTranslation)
		m.translations[promptID] = byLang
	}
	tr, ok := byLang[language]
	if !ok {
		tr = models.PromptTranslation{ID: uuid.New(), PromptID: promptID, Language: language}
	}
	tr.Text = text
	byLang[language] = tr
	return nil
}

// AddImage records an image. It reports false when an image with the same
// path already exists.
func (m *Memory) AddImage(ctx context.Context, img *models.Image) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prompts[img.PromptID]; !ok {
		return false, ErrNotFound
	}
	if _, exists := m.imagePaths[img.ImagePath]; exists {
		return false, nil
	}
	stored := *img
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.images[stored.ID] = stored
	m.imagePaths[stored.ImagePath] = stored.ID
	*img = stored
	return true, nil
}

// ListPrompts returns every prompt ordered by slug
func (m *Memory) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Prompt, 0, len(m.prompts))
	for _, p := range m.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// ListTranslations returns every localized variant of a prompt
func (m *Memory) ListTranslations(ctx context.Context, promptID uuid.UUID) ([]models.PromptTranslation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PromptTranslation
	for _, tr := range m.translations[promptID] {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}

// PromptCoverage reports distinct model and image counts per prompt
func (m *Memory) PromptCoverage(ctx context.Context) ([]Coverage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byPrompt := make(map[uuid.UUID]map[string]int)
	for _, img := range m.images {
		if byPrompt[img.PromptID] == nil {
			byPrompt[img.PromptID] = make(map[string]int)
		}
		byPrompt[img.PromptID][img.ModelName]++
	}

	out := make([]Coverage, 0, len(m.prompts))
	for id, p := range m.prompts {
		cov := Coverage{PromptID: id, Slug: p.Slug, Models: len(byPrompt[id])}
		for _, n := range byPrompt[id] {
			cov.Images += n
		}
		out = append(out, cov)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// ResetVotes deletes every vote and zeroes every impression counter
func (m *Memory) ResetVotes(ctx context.Context) (*ResetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &ResetResult{Votes: int64(len(m.votes)), Images: int64(len(m.images))}
	m.votes = nil
	for id, img := range m.images {
		img.ImpressionCount = 0
		m.images[id] = img
	}
	return res, nil
}

// WipeAll deletes every prompt and, by cascade, everything that refers to it
func (m *Memory) WipeAll(ctx context.Context) (*ResetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &ResetResult{
		Votes:   int64(len(m.votes)),
		Images:  int64(len(m.images)),
		Prompts: int64(len(m.prompts)),
	}
	for _, byLang := range m.translations {
		res.Translations += int64(len(byLang))
	}

	m.prompts = make(map[uuid.UUID]models.Prompt)
	m.slugs = make(map[string]uuid.UUID)
	m.translations = make(map[uuid.UUID]map[string]models.PromptTranslation)
	m.images = make(map[uuid.UUID]models.Image)
	m.imagePaths = make(map[string]uuid.UUID)
	m.votes = nil
	return res, nil
}

func (m *Memory) sortedPromptIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.prompts))
	for id := range m.prompts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
