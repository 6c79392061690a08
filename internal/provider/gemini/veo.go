package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

const veoModel = "veo-3.1-fast-generate-preview"

// VideoGenerator drives Veo's long-running operation: submit the
// start/end frames, poll the operation handle until done, then download
// the produced video. Polling is paced and capped; blowing the cap
// surfaces a *provider.TimeoutError while the frame images stay intact.
type VideoGenerator struct {
	c            *Client
	PollInterval time.Duration
	PollAttempts int
}

func NewVideoGenerator(c *Client) *VideoGenerator {
	return &VideoGenerator{
		c:            c,
		PollInterval: 5 * time.Second,
		PollAttempts: 60,
	}
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string   `json:"prompt"`
	Image  veoImage `json:"image"`
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoParameters struct {
	NumberOfVideos int       `json:"numberOfVideos"`
	Resolution     string    `json:"resolution"`
	AspectRatio    string    `json:"aspectRatio"`
	LastFrame      *veoImage `json:"lastFrame,omitempty"`
}

type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

var errOperationPending = errors.New("operation still running")

func (g *VideoGenerator) GenerateVideo(ctx context.Context, req provider.VideoRequest) (*story.Asset, error) {
	body := veoRequest{
		Instances: []veoInstance{{
			Prompt: req.Prompt,
			Image: veoImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Start.Data),
				MimeType:           req.Start.Mime,
			},
		}},
		Parameters: veoParameters{
			NumberOfVideos: 1,
			Resolution:     "720p",
			AspectRatio:    "16:9",
			LastFrame: &veoImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.End.Data),
				MimeType:           req.End.Mime,
			},
		},
	}

	var op veoOperation
	path := fmt.Sprintf("/v1beta/models/%s:predictLongRunning", veoModel)
	if err := g.c.postJSON(ctx, path, body, &op); err != nil {
		return nil, fmt.Errorf("veo submit: %w", err)
	}
	if op.Name == "" {
		return nil, provider.NewError("veo", provider.KindUnknown, "no operation handle returned")
	}

	poll := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.PollInterval), uint64(g.PollAttempts)),
		ctx,
	)
	err := backoff.Retry(func() error {
		var latest veoOperation
		if err := g.c.getJSON(ctx, "/v1beta/"+op.Name, &latest); err != nil {
			return backoff.Permanent(err)
		}
		if !latest.Done {
			return errOperationPending
		}
		op = latest
		return nil
	}, poll)
	if err != nil {
		if errors.Is(err, errOperationPending) {
			return nil, &provider.TimeoutError{Provider: "veo", Attempts: g.PollAttempts}
		}
		return nil, fmt.Errorf("veo poll: %w", err)
	}

	if op.Error != nil {
		return nil, provider.NewError("veo", provider.KindUnknown, op.Error.Message)
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return nil, provider.NewError("veo", provider.KindUnknown, "no video URI returned")
	}

	// 产物URI下载时要附带API key参数
	data, mime, err := g.c.download(ctx, samples[0].Video.URI, true)
	if err != nil {
		return nil, fmt.Errorf("veo download: %w", err)
	}
	if mime == "" {
		mime = "video/mp4"
	}
	return &story.Asset{Data: data, Mime: mime}, nil
}
