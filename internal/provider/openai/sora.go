package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

const soraModel = "sora-2"

// VideoGenerator drives a Sora video job: submit the prompt with the
// start frame as reference image, poll the job until a terminal state,
// then download the rendered content.
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

type videoJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

var errVideoPending = errors.New("video job still running")

func (g *VideoGenerator) GenerateVideo(ctx context.Context, req provider.VideoRequest) (*story.Asset, error) {
	if g.APIKey == "" {
		return nil, provider.NewError("sora", provider.KindAuth, "API key is required")
	}

	job, err := g.createJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sora submit: %w", err)
	}

	poll := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.PollInterval), uint64(g.PollAttempts)),
		ctx,
	)
	err = backoff.Retry(func() error {
		latest, err := g.getJob(ctx, job.ID)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch latest.Status {
		case "completed":
			return nil
		case "failed":
			msg := "video generation failed"
			if latest.Error != nil {
				msg = latest.Error.Message
			}
			return backoff.Permanent(provider.NewError("sora", provider.KindUnknown, msg))
		default:
			return errVideoPending
		}
	}, poll)
	if err != nil {
		if errors.Is(err, errVideoPending) {
			return nil, &provider.TimeoutError{Provider: "sora", Attempts: g.PollAttempts}
		}
		return nil, err
	}

	return g.downloadContent(ctx, job.ID)
}

// createJob 提交视频任务，首帧作为参考图一并上传
func (g *VideoGenerator) createJob(ctx context.Context, vr provider.VideoRequest) (*videoJob, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("model", soraModel); err != nil {
		return nil, err
	}
	if err := mw.WriteField("prompt", vr.Prompt); err != nil {
		return nil, err
	}
	if vr.Start != nil {
		fw, err := mw.CreateFormFile("input_reference", "start.png")
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(vr.Start.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/videos", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("sora", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("sora", res.StatusCode, strings.TrimSpace(string(data)))
	}
	var job videoJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, provider.NewError("sora", provider.KindUnknown, "no job id returned")
	}
	return &job, nil
}

func (g *VideoGenerator) getJob(ctx context.Context, id string) (*videoJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/videos/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("sora", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("sora", res.StatusCode, strings.TrimSpace(string(data)))
	}
	var job videoJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (g *VideoGenerator) downloadContent(ctx context.Context, id string) (*story.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/videos/"+id+"/content", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("sora", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("sora", res.StatusCode, "video download failed")
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
