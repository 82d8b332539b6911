package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/imagearena/api/internal/handlers"
	"github.com/imagearena/api/internal/models"
)

func smokeCmd() *cobra.Command {
	var (
		baseURL string
		rounds  int
	)
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Allocate and vote against a running API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			session := "smoke-" + uuid.NewString()
			for i := 0; i < rounds; i++ {
				if err := smokeRound(cmd.Context(), client, baseURL, session); err != nil {
					return fmt.Errorf("round %d: %w", i+1, err)
				}
			}
			fmt.Printf("Smoke test passed (%d rounds)\n", rounds)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().IntVarP(&rounds, "rounds", "n", 1, "allocate/vote round trips")
	return cmd
}

func smokeRound(ctx context.Context, client *http.Client, baseURL, session string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/prompts/random", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to allocate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("allocate returned %s", resp.Status)
	}

	var alloc models.Allocation
	if err := json.NewDecoder(resp.Body).Decode(&alloc); err != nil {
		return fmt.Errorf("failed to decode allocation: %w", err)
	}
	if len(alloc.Candidates) == 0 {
		return errors.New("allocation has no candidates")
	}
	fmt.Printf("Allocated %s with %d candidates (degraded=%t)\n", alloc.Slug, len(alloc.Candidates), alloc.Degraded)

	body, err := json.Marshal(handlers.CastVoteRequest{
		PromptID:         alloc.PromptID.String(),
		ChosenModel:      alloc.Candidates[0].ModelName,
		ShownModels:      alloc.ShownModels(),
		SessionID:        session,
		ReservationToken: alloc.ReservationToken,
	})
	if err != nil {
		return err
	}
	key := uuid.NewString()
	for attempt := 0; attempt < 2; attempt++ {
		voteReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/votes", bytes.NewReader(body))
		if err != nil {
			return err
		}
		voteReq.Header.Set("Content-Type", "application/json")
		voteReq.Header.Set("Idempotency-Key", key)

		voteResp, err := client.Do(voteReq)
		if err != nil {
			return fmt.Errorf("failed to vote: %w", err)
		}
		var ack models.VoteAck
		decodeErr := json.NewDecoder(voteResp.Body).Decode(&ack)
		voteResp.Body.Close()

		want := http.StatusCreated
		if attempt == 1 {
			want = http.StatusOK
		}
		if voteResp.StatusCode != want {
			return fmt.Errorf("vote attempt %d returned %s, want %d", attempt+1, voteResp.Status, want)
		}
		if decodeErr != nil {
			return fmt.Errorf("failed to decode vote ack: %w", decodeErr)
		}
		fmt.Printf("Vote %s (duplicate=%t)\n", ack.VoteID, ack.Duplicate)
	}
	return nil
}
