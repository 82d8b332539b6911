package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCandidates is the number of candidates shown per prompt-serving event
const DefaultMaxCandidates = 4

// Prompt is a text-to-image challenge shared by every model under test
type Prompt struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptTranslation is a localized variant of a prompt's text.
// (PromptID, Language) is unique.
type PromptTranslation struct {
	ID       uuid.UUID `json:"id"`
	PromptID uuid.UUID `json:"prompt_id"`
	Language string    `json:"language"`
	Text     string    `json:"text"`
}

// Image is one rendered answer of a model for a prompt
type Image struct {
	ID              uuid.UUID `json:"id"`
	PromptID        uuid.UUID `json:"prompt_id"`
	ModelName       string    `json:"model_name"`
	ImagePath       string    `json:"image_path"`
	ImpressionCount int64     `json:"impression_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Candidate is one image offered to a viewer. ModelName is sent to the
// client so it can be echoed back on vote; it must not be displayed.
type Candidate struct {
	ImageID   uuid.UUID `json:"image_id"`
	ModelName string    `json:"model_name"`
	ImageURL  string    `json:"image_url"`
}

// Allocation is the result of one prompt-serving event. Impressions for
// every candidate are already reserved when an Allocation is returned.
type Allocation struct {
	PromptID         uuid.UUID   `json:"prompt_id"`
	PromptText       string      `json:"prompt_text"`
	Slug             string      `json:"slug"`
	Language         string      `json:"language"`
	Candidates       []Candidate `json:"candidates"`
	Degraded         bool        `json:"degraded,omitempty"`
	ReservationToken string      `json:"reservation_token,omitempty"`
}

// ShownModels returns the model names of the allocation's candidates
func (a *Allocation) ShownModels() []string {
	out := make([]string, 0, len(a.Candidates))
	for _, c := range a.Candidates {
		out = append(out, c.ModelName)
	}
	return out
}

// ClientMetadata is best-effort information about the voter's client
type ClientMetadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Device    string `json:"device,omitempty"`
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
}

// Vote is an immutable preference event
type Vote struct {
	ID          uuid.UUID      `json:"id"`
	PromptID    uuid.UUID      `json:"prompt_id"`
	ChosenModel string         `json:"chosen_model"`
	ShownModels []string       `json:"shown_models"`
	SessionID   string         `json:"session_id,omitempty"`
	Client      ClientMetadata `json:"client"`
	CreatedAt   time.Time      `json:"created_at"`
}

// VoteRequest is the input of the vote ledger
type VoteRequest struct {
	PromptID         uuid.UUID
	ChosenModel      string
	ShownModels      []string
	SessionID        string
	ReservationToken string
	IdempotencyKey   string
	Client           ClientMetadata
}

// VoteAck acknowledges a recorded vote
type VoteAck struct {
	VoteID    uuid.UUID `json:"vote_id"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// ModelStats aggregates one model's performance across all prompts
type ModelStats struct {
	Model       string  `json:"model_name"`
	Votes       int64   `json:"votes"`
	Impressions int64   `json:"impressions"`
	WinRate     float64 `json:"win_rate"`
	CTR         float64 `json:"ctr"`
}

// AggregateStats is derived on demand from votes and impression counters
type AggregateStats struct {
	TotalVotes       int64        `json:"total_votes"`
	TotalImpressions int64        `json:"total_impressions"`
	Models           []ModelStats `json:"model_stats"`
}

// Tallies are raw per-model counts read in one consistent snapshot
type Tallies struct {
	Votes       map[string]int64
	Impressions map[string]int64
}
