// Package leonardo implements image generation against the Leonardo AI
// REST API: a create-then-poll job flow with an attempt cap, followed
// by a download of the finished image.
package leonardo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

const (
	defaultBase = "https://cloud.leonardo.ai/api/rest/v1"

	// Leonardo Diffusion XL
	modelID = "b24e16ff-06e3-43eb-8d33-4416c2d75876"

	// Leonardo wants pixel dimensions, long side pinned here.
	baseSize = 1024
)

type Generator struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollAttempts int
}

func NewGenerator(apiKey string) *Generator {
	return &Generator{
		BaseURL:      defaultBase,
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: 2 * time.Second,
		PollAttempts: 60,
	}
}

type createRequest struct {
	Prompt    string `json:"prompt"`
	NumImages int    `json:"num_images"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ModelID   string `json:"modelId"`
	Alchemy   bool   `json:"alchemy"`
}

type createResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type statusResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

var (
	errJobPending = errors.New("generation still running")
	errJobFailed  = provider.NewError("leonardo", provider.KindUnknown, "image generation failed")
)

func (g *Generator) GenerateImage(ctx context.Context, req provider.ImageRequest) (*story.Asset, error) {
	if g.APIKey == "" {
		return nil, provider.NewError("leonardo", provider.KindAuth, "API key is required")
	}
	width, height := provider.RatioToPixels(req.AspectRatio, baseSize)

	var created createResponse
	err := g.doJSON(ctx, http.MethodPost, "/generations", createRequest{
		Prompt:    req.Prompt,
		NumImages: 1,
		Width:     width,
		Height:    height,
		ModelID:   modelID,
		Alchemy:   true,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("leonardo create: %w", err)
	}
	jobID := created.SDGenerationJob.GenerationID
	if jobID == "" {
		return nil, provider.NewError("leonardo", provider.KindUnknown, "no generation id returned")
	}

	var imageURL string
	poll := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.PollInterval), uint64(g.PollAttempts)),
		ctx,
	)
	err = backoff.Retry(func() error {
		var status statusResponse
		if err := g.doJSON(ctx, http.MethodGet, "/generations/"+jobID, nil, &status); err != nil {
			return backoff.Permanent(err)
		}
		job := status.GenerationsByPK
		switch {
		case job.Status == "COMPLETE" && len(job.GeneratedImages) > 0:
			imageURL = job.GeneratedImages[0].URL
			return nil
		case job.Status == "FAILED":
			return backoff.Permanent(errJobFailed)
		default:
			return errJobPending
		}
	}, poll)
	if err != nil {
		if errors.Is(err, errJobPending) {
			return nil, &provider.TimeoutError{Provider: "leonardo", Attempts: g.PollAttempts}
		}
		return nil, err
	}

	return g.downloadImage(ctx, imageURL)
}

func (g *Generator) downloadImage(ctx context.Context, url string) (*story.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("leonardo", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("leonardo", res.StatusCode, "image download failed")
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	mime := res.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = "image/png"
	}
	return &story.Asset{Data: data, Mime: mime}, nil
}

func (g *Generator) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", "application/json")
	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return provider.NewError("leonardo", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return provider.ErrorFromStatus("leonardo", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// Validator checks a key by fetching the account profile.
type Validator struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewValidator() *Validator {
	return &Validator{BaseURL: defaultBase, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

func (v *Validator) ValidateKey(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/me", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+key)
	res, err := v.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode >= 200 && res.StatusCode < 300
}
