// Package kling implements transition video against the Kling AI
// image2video API: create a task with first and last frame, poll it,
// download the result.
package kling

import (
	"context"
	"encoding/base64"
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
	defaultBase = "https://api.klingai.com"
	videoModel  = "kling-v1-6"
)

type VideoGenerator struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollAttempts int
}

func NewVideoGenerator(apiKey string) *VideoGenerator {
	return &VideoGenerator{
		BaseURL:      defaultBase,
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		PollInterval: 5 * time.Second,
		PollAttempts: 60,
	}
}

type createRequest struct {
	Model     string `json:"model_name"`
	Prompt    string `json:"prompt"`
	Image     string `json:"image"`      // 首帧，base64
	ImageTail string `json:"image_tail"` // 尾帧，base64
}

type taskResponse struct {
	Data struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		TaskResult struct {
			Videos []struct {
				URL string `json:"url"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
	Message string `json:"message"`
}

var errTaskPending = errors.New("video task still running")

func (g *VideoGenerator) GenerateVideo(ctx context.Context, req provider.VideoRequest) (*story.Asset, error) {
	if g.APIKey == "" {
		return nil, provider.NewError("kling", provider.KindAuth, "API key is required")
	}

	var created taskResponse
	err := g.doJSON(ctx, http.MethodPost, "/v1/videos/image2video", createRequest{
		Model:     videoModel,
		Prompt:    req.Prompt,
		Image:     base64.StdEncoding.EncodeToString(req.Start.Data),
		ImageTail: base64.StdEncoding.EncodeToString(req.End.Data),
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("kling create: %w", err)
	}
	taskID := created.Data.TaskID
	if taskID == "" {
		return nil, provider.NewError("kling", provider.KindUnknown, "no task id returned")
	}

	var videoURL string
	poll := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.PollInterval), uint64(g.PollAttempts)),
		ctx,
	)
	err = backoff.Retry(func() error {
		var status taskResponse
		if err := g.doJSON(ctx, http.MethodGet, "/v1/videos/image2video/"+taskID, nil, &status); err != nil {
			return backoff.Permanent(err)
		}
		switch status.Data.TaskStatus {
		case "succeed":
			if len(status.Data.TaskResult.Videos) == 0 {
				return backoff.Permanent(provider.NewError("kling", provider.KindUnknown, "no video in finished task"))
			}
			videoURL = status.Data.TaskResult.Videos[0].URL
			return nil
		case "failed":
			msg := status.Message
			if msg == "" {
				msg = "video task failed"
			}
			return backoff.Permanent(provider.NewError("kling", provider.KindUnknown, msg))
		default:
			return errTaskPending
		}
	}, poll)
	if err != nil {
		if errors.Is(err, errTaskPending) {
			return nil, &provider.TimeoutError{Provider: "kling", Attempts: g.PollAttempts}
		}
		return nil, err
	}

	return g.downloadVideo(ctx, videoURL)
}

func (g *VideoGenerator) downloadVideo(ctx context.Context, url string) (*story.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("kling", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("kling", res.StatusCode, "video download failed")
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	mime := res.Header.Get("Content-Type")
	if mime == "" {
		mime = "video/mp4"
	}
	return &story.Asset{Data: data, Mime: mime}, nil
}

func (g *VideoGenerator) doJSON(ctx context.Context, method, path string, body, out any) error {
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
		return provider.NewError("kling", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return provider.ErrorFromStatus("kling", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// Validator checks a key against the account endpoint.
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
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/v1/user", nil)
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
