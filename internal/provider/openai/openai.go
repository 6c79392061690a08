// Package openai implements the OpenAI-backed adapters: GPT-4 story
// segmentation driven through an eino chat model, Sora transition
// video, and key validation.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"storytomedia/internal/provider"
)

const (
	defaultBase  = "https://api.openai.com/v1"
	segmentModel = "gpt-4o"
)

// Segmenter splits a story with a GPT-4 class model.
type Segmenter struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewSegmenter(apiKey string) *Segmenter {
	return &Segmenter{APIKey: apiKey, BaseURL: defaultBase, Model: segmentModel}
}

func (s *Segmenter) SegmentText(ctx context.Context, text string) ([]string, error) {
	if !KeyLooksValid(s.APIKey) {
		return nil, provider.NewError("openai", provider.KindAuth, "API key is missing or malformed")
	}
	cm, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Model:   s.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai segmentation: build chat model: %w", err)
	}

	prompt := fmt.Sprintf(`You are a professional film editor.
Analyze the following story text and split it into distinct scenes or paragraphs suitable for video adaptation.
Each paragraph should represent a coherent visual sequence.

Story Text:
%q

Return a STRICT JSON array of strings. Do not add markdown formatting.
Example: ["Scene 1 text...", "Scene 2 text..."]`, text)

	msg, err := cm.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return nil, fmt.Errorf("openai segmentation: %w", err)
	}
	return parseSegments(msg.Content)
}

// parseSegments 模型偶尔会把数组包在对象或代码块里，这里统一兜住
func parseSegments(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var parts []string
	if err := json.Unmarshal([]byte(content), &parts); err == nil {
		return parts, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil {
		for _, key := range []string{"scenes", "paragraphs"} {
			if raw, ok := wrapped[key]; ok {
				if err := json.Unmarshal(raw, &parts); err == nil {
					return parts, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("openai segmentation: unexpected response shape")
}

// KeyLooksValid is the cheap local shape check done before spending a
// network round-trip on a key that cannot possibly work.
func KeyLooksValid(key string) bool {
	return strings.HasPrefix(key, "sk-") && len(key) > 20
}

// Validator checks a key against the models listing endpoint.
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
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/models", nil)
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
