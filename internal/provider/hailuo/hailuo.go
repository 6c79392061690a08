// Package hailuo implements transition video against the Hailuo
// (MiniMax) video generation API. The request carries only the first
// frame and the text prompt; the API has no end-frame parameter, so
// the end image is not sent.
package hailuo

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
	defaultBase = "https://api.minimax.chat"
	videoModel  = "video-01"
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
	Model           string `json:"model"`
	Prompt          string `json:"prompt"`
	FirstFrameImage string `json:"first_frame_image"` // data URL
}

type createResponse struct {
	TaskID string `json:"task_id"`
}

type queryResponse struct {
	Status  string `json:"status"`
	FileID  string `json:"file_id"`
	BaseRes struct {
		StatusMsg string `json:"status_msg"`
	} `json:"base_resp"`
}

type fileResponse struct {
	File struct {
		DownloadURL string `json:"download_url"`
	} `json:"file"`
}

var errTaskPending = errors.New("video task still running")

func (g *VideoGenerator) GenerateVideo(ctx context.Context, req provider.VideoRequest) (*story.Asset, error) {
	if g.APIKey == "" {
		return nil, provider.NewError("hailuo", provider.KindAuth, "API key is required")
	}

	firstFrame := fmt.Sprintf("data:%s;base64,%s", req.Start.Mime,
		base64.StdEncoding.EncodeToString(req.Start.Data))
	var created createResponse
	err := g.doJSON(ctx, http.MethodPost, "/v1/video_generation", createRequest{
		Model:           videoModel,
		Prompt:          req.Prompt,
		FirstFrameImage: firstFrame,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("hailuo create: %w", err)
	}
	if created.TaskID == "" {
		return nil, provider.NewError("hailuo", provider.KindUnknown, "no task id returned")
	}

	var fileID string
	poll := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.PollInterval), uint64(g.PollAttempts)),
		ctx,
	)
	err = backoff.Retry(func() error {
		var status queryResponse
		path := "/v1/query/video_generation?task_id=" + created.TaskID
		if err := g.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
			return backoff.Permanent(err)
		}
		switch status.Status {
		case "Success":
			fileID = status.FileID
			return nil
		case "Fail":
			msg := status.BaseRes.StatusMsg
			if msg == "" {
				msg = "video task failed"
			}
			return backoff.Permanent(provider.NewError("hailuo", provider.KindUnknown, msg))
		default:
			return errTaskPending
		}
	}, poll)
	if err != nil {
		if errors.Is(err, errTaskPending) {
			return nil, &provider.TimeoutError{Provider: "hailuo", Attempts: g.PollAttempts}
		}
		return nil, err
	}

	var file fileResponse
	if err := g.doJSON(ctx, http.MethodGet, "/v1/files/retrieve?file_id="+fileID, nil, &file); err != nil {
		return nil, fmt.Errorf("hailuo file lookup: %w", err)
	}
	if file.File.DownloadURL == "" {
		return nil, provider.NewError("hailuo", provider.KindUnknown, "no download url for finished task")
	}
	return g.downloadVideo(ctx, file.File.DownloadURL)
}

func (g *VideoGenerator) downloadVideo(ctx context.Context, url string) (*story.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("hailuo", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("hailuo", res.StatusCode, "video download failed")
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
		return provider.NewError("hailuo", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return provider.ErrorFromStatus("hailuo", res.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// Validator checks a key against the account endpoint.
type Validator struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewValidator() *Validator {
	return &Validator{BaseURL: "https://api.hailuoai.com", HTTPClient: &http.Client{Timeout: 15 * time.Second}}
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
