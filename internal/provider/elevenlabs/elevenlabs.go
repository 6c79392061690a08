// Package elevenlabs implements narration audio against the ElevenLabs
// text-to-speech API. Unlike the Gemini path the response is already a
// playable MP3 container, so no repackaging is needed.
package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

const (
	defaultBase = "https://api.elevenlabs.io"
	ttsModelID  = "eleven_multilingual_v2"
)

type Generator struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewGenerator(apiKey string) *Generator {
	return &Generator{
		BaseURL:    defaultBase,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (g *Generator) GenerateAudio(ctx context.Context, text, voice string) (*story.Asset, error) {
	if g.APIKey == "" {
		return nil, provider.NewError("elevenlabs", provider.KindAuth, "API key is required")
	}
	body, err := json.Marshal(ttsRequest{Text: text, ModelID: ttsModelID})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", g.BaseURL, voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", g.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewError("elevenlabs", provider.KindUnknown, err.Error())
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, provider.ErrorFromStatus("elevenlabs", res.StatusCode, strings.TrimSpace(string(data)))
	}
	mime := res.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	return &story.Asset{Data: data, Mime: mime}, nil
}

// Validator checks a key by fetching the user profile.
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
	req.Header.Set("xi-api-key", key)
	res, err := v.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode >= 200 && res.StatusCode < 300
}
