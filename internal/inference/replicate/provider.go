// Package replicate implements the inference provider against the Replicate
// predictions API: submit a prediction, poll its status at a fixed interval
// up to a bounded attempt count, then download the output artifact.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixelift/pixelift/internal/inference"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// maxOutputBytes bounds the downloaded artifact (32 MB).
const maxOutputBytes = 32 << 20

// Config holds provider configuration.
type Config struct {
	APIToken     string
	ModelVersion string
	PollInterval time.Duration
	MaxPolls     int
	BaseURL      string // overridable for tests
}

// Provider implements inference.Provider against the Replicate API.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Replicate-backed provider.
func New(config Config, logger *slog.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.MaxPolls <= 0 {
		config.MaxPolls = 90
	}
	return &Provider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type prediction struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

// Enhance submits the image and blocks until the prediction finishes or the
// polling budget is exhausted.
func (p *Provider) Enhance(ctx context.Context, params inference.EnhanceParams) (*inference.EnhanceResult, error) {
	pred, err := p.create(ctx, params)
	if err != nil {
		return nil, err
	}

	id := pred.ID
	p.logger.Debug("prediction submitted", "prediction_id", id, "model", params.Model)

	for attempt := 0; attempt < p.config.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.config.PollInterval):
		}

		latest, err := p.get(ctx, id)
		if err != nil {
			// Status polling is an idempotent read; keep polling through
			// transient failures until the attempt budget runs out.
			p.logger.Warn("prediction poll failed", "prediction_id", id, "error", err)
			continue
		}

		switch latest.Status {
		case "succeeded":
			if len(latest.Output) == 0 {
				return nil, fmt.Errorf("prediction %s succeeded with no output", id)
			}
			return p.download(ctx, latest.Output[0])
		case "failed", "canceled":
			return nil, fmt.Errorf("prediction %s %s: %s", id, latest.Status, latest.Error)
		}
	}

	return nil, inference.ErrTimeout
}

func (p *Provider) create(ctx context.Context, params inference.EnhanceParams) (*prediction, error) {
	body, err := json.Marshal(createRequest{
		Version: p.config.ModelVersion,
		Input: map[string]any{
			"image": params.ImageURL,
			"task":  string(params.Model),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.BaseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	return p.doPrediction(req)
}

func (p *Provider) get(ctx context.Context, id string) (*prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.BaseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.config.APIToken)

	return p.doPrediction(req)
}

func (p *Provider) doPrediction(req *http.Request) (*prediction, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference API returned %d: %s", resp.StatusCode, snippet)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("decode prediction response: %w", err)
	}
	return &pred, nil
}

func (p *Provider) download(ctx context.Context, url string) (*inference.EnhanceResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build output request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("output download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return &inference.EnhanceResult{Data: data, ContentType: contentType}, nil
}
