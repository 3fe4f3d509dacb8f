// Package httpapi implements models.ScoreProvider against the external LLM
// scoring endpoint's HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jmckinley/versecheck/internal/config"
	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/pkg/models"
)

// Provider implements models.ScoreProvider over HTTP.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewProvider creates a new HTTP scoring provider. The zero timeout on the
// inner http.Client is intentional: the inference client bounds every call
// with a per-request context deadline.
func NewProvider(cfg config.InferenceConfig) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{},
	}
}

func (p *Provider) Name() string { return "http" }

type scoreRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type scoreResponse struct {
	Score    int      `json:"score"`
	Verdict  string   `json:"verdict"`
	Themes   []string `json:"themes"`
	Concerns []string `json:"concerns"`
	Quality  string   `json:"quality_flag"`
}

// Score posts the scoring prompt and normalizes the response. Status and
// transport failures map onto the inference error taxonomy.
func (p *Provider) Score(ctx context.Context, ref models.ContentRef) (models.ScoredResult, error) {
	body, err := json.Marshal(scoreRequest{
		Model:  p.model,
		Prompt: buildPrompt(ref),
	})
	if err != nil {
		return models.ScoredResult{}, fmt.Errorf("encoding request: %w", err)
	}

	u := p.baseURL + "/v1/score"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.ScoredResult{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.ScoredResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.ScoredResult{}, fmt.Errorf("%w: status %d", inference.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return models.ScoredResult{}, fmt.Errorf("%w: status %d", inference.ErrUpstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return models.ScoredResult{}, fmt.Errorf("%w: unexpected status %d", inference.ErrInvalidResponse, resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return models.ScoredResult{}, fmt.Errorf("%w: decoding body: %v", inference.ErrInvalidResponse, err)
	}

	return models.ScoredResult{
		Score:    sr.Score,
		Verdict:  sr.Verdict,
		Themes:   sr.Themes,
		Concerns: sr.Concerns,
		Quality:  models.QualityFlag(sr.Quality),
		Model:    p.model,
	}, nil
}

// buildPrompt renders the scoring prompt for one song. The rubric text lives
// server-side with the endpoint; we only supply the content fields.
func buildPrompt(ref models.ContentRef) string {
	return fmt.Sprintf("Title: %s\nArtist: %s\nLyrics:\n%s\n", ref.Title, ref.Artist, ref.Lyrics)
}

// classifyError maps transport-level errors to the inference taxonomy.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", inference.ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", inference.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", inference.ErrUpstream, err)
}

// Compile-time check that Provider implements ScoreProvider.
var _ models.ScoreProvider = (*Provider)(nil)
