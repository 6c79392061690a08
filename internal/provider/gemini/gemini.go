// Package gemini implements the Gemini-backed capability adapters:
// story segmentation, scene prompt writing, still image generation
// (flash and Imagen), TTS narration, Veo transition video and key
// validation.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"storytomedia/internal/provider"
	"storytomedia/internal/story"
	"storytomedia/internal/wav"
)

const (
	textModel       = "gemini-2.5-flash"
	flashImageModel = "gemini-2.5-flash-image"
	ttsModel        = "gemini-2.5-flash-preview-tts"

	// Gemini TTS returns raw 16-bit mono PCM at this rate.
	ttsSampleRate = 24000
)

// Segmenter splits a story with the gemini-2.5-flash text model.
type Segmenter struct {
	c *Client
}

func NewSegmenter(c *Client) *Segmenter { return &Segmenter{c: c} }

func (s *Segmenter) SegmentText(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`You are a film editor.
Analyze the following story text and split it into distinct scenes or paragraphs suitable for video adaptation.
Each paragraph should represent a coherent visual sequence.

Story Text:
%q

Return a JSON array of strings.
Example: ["Scene 1 text...", "Scene 2 text..."]`, text)

	resp, err := s.c.generateContent(ctx, textModel, generateRequest{
		Contents:         []content{{Parts: []contentPart{{Text: prompt}}}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini segmentation: %w", err)
	}
	var parts []string
	if err := json.Unmarshal([]byte(stripFence(resp.firstText())), &parts); err != nil {
		return nil, fmt.Errorf("gemini segmentation: parse response: %w", err)
	}
	return parts, nil
}

// Prompter writes start/end scene prompts for the storyboard step.
type Prompter struct {
	c *Client
}

func NewPrompter(c *Client) *Prompter { return &Prompter{c: c} }

func (p *Prompter) ScenePrompts(ctx context.Context, paragraph string, count int, style string) ([]provider.PromptPair, error) {
	prompt := fmt.Sprintf(`You are a visual storyboard artist.
Read the following story paragraph and create %d distinct visual scenes.
For EACH scene, describe the "Start Point" (beginning of the shot) and the "End Point" (end of the shot, showing change/motion).

Style: %s.
Paragraph: %q

Return a JSON array with exactly %d objects.
Schema: [{ "start": "description...", "end": "description..." }]`, count, style, paragraph, count)

	resp, err := p.c.generateContent(ctx, textModel, generateRequest{
		Contents:         []content{{Parts: []contentPart{{Text: prompt}}}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("scene prompts: %w", err)
	}
	var pairs []provider.PromptPair
	if err := json.Unmarshal([]byte(stripFence(resp.firstText())), &pairs); err != nil {
		return nil, fmt.Errorf("scene prompts: parse response: %w", err)
	}
	if len(pairs) != count {
		return nil, fmt.Errorf("scene prompts: expected %d pairs, got %d", count, len(pairs))
	}
	return pairs, nil
}

func (p *Prompter) RewritePrompt(ctx context.Context, paragraph, current string, kind story.ImageKind, style string) (string, error) {
	promptType := "Start Point (Visual beginning)"
	if kind == story.ImageEnd {
		promptType = "End Point (Visual transition/end)"
	}
	prompt := fmt.Sprintf(`You are a visual storyboard artist.
Context Paragraph: %q
Current Prompt: %q

Task: Rewrite the visual description for the %s of a scene derived from this paragraph.
Make it distinct, detailed, visual, and suitable for an image generator.
Style: %s.

Return ONLY the plain text description, no JSON.`, paragraph, current, promptType, style)

	resp, err := p.c.generateContent(ctx, textModel, generateRequest{
		Contents: []content{{Parts: []contentPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("rewrite prompt: %w", err)
	}
	text := strings.TrimSpace(resp.firstText())
	if text == "" {
		return "", fmt.Errorf("rewrite prompt: empty response")
	}
	return text, nil
}

// ImageGenerator generates stills with either the flash image model or
// an Imagen model. Imagen calls that fail with NOT_FOUND or a
// permission error fall back to the flash path once; that quirk is
// specific to Imagen availability per project and is not generalized to
// other vendors.
type ImageGenerator struct {
	c     *Client
	Model string
}

func NewImageGenerator(c *Client, model string) *ImageGenerator {
	if model == "" {
		model = flashImageModel
	}
	return &ImageGenerator{c: c, Model: model}
}

func (g *ImageGenerator) GenerateImage(ctx context.Context, req provider.ImageRequest) (*story.Asset, error) {
	if strings.Contains(g.Model, "imagen") {
		asset, err := g.generateImagen(ctx, req)
		if err == nil {
			return asset, nil
		}
		switch provider.KindOf(err) {
		case provider.KindNotFound, provider.KindAuth:
			return g.generateFlash(ctx, req)
		}
		return nil, err
	}
	return g.generateFlash(ctx, req)
}

func (g *ImageGenerator) generateFlash(ctx context.Context, req provider.ImageRequest) (*story.Asset, error) {
	resp, err := g.c.generateContent(ctx, flashImageModel, generateRequest{
		Contents: []content{{Parts: []contentPart{{Text: req.Prompt}}}},
	})
	if err != nil {
		return nil, err
	}
	inline := resp.firstInline()
	if inline == nil {
		return nil, provider.NewError("gemini", provider.KindUnknown, "no image data returned")
	}
	data, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	mime := inline.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &story.Asset{Data: data, Mime: mime}, nil
}

type imagenRequest struct {
	Instances  []imagenInstance `json:"instances"`
	Parameters imagenParameters `json:"parameters"`
}

type imagenInstance struct {
	Prompt string `json:"prompt"`
}

type imagenParameters struct {
	SampleCount    int    `json:"sampleCount"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	OutputMimeType string `json:"outputMimeType,omitempty"`
}

type imagenResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

// generateImagen Imagen走:predict接口，宽高比直接用比例字符串
func (g *ImageGenerator) generateImagen(ctx context.Context, req provider.ImageRequest) (*story.Asset, error) {
	body := imagenRequest{
		Instances: []imagenInstance{{Prompt: req.Prompt}},
		Parameters: imagenParameters{
			SampleCount:    1,
			AspectRatio:    req.AspectRatio,
			OutputMimeType: "image/png",
		},
	}
	var resp imagenResponse
	path := fmt.Sprintf("/v1beta/models/%s:predict", g.Model)
	if err := g.c.postJSON(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return nil, provider.NewError("gemini", provider.KindUnknown, "no image data returned from imagen")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, fmt.Errorf("decode imagen payload: %w", err)
	}
	mime := resp.Predictions[0].MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &story.Asset{Data: data, Mime: mime}, nil
}

// AudioGenerator narrates a paragraph with Gemini TTS. The endpoint
// streams raw PCM, so the adapter repackages the bytes into a WAV
// container before handing the asset back.
type AudioGenerator struct {
	c *Client
}

func NewAudioGenerator(c *Client) *AudioGenerator { return &AudioGenerator{c: c} }

func (g *AudioGenerator) GenerateAudio(ctx context.Context, text, voice string) (*story.Asset, error) {
	resp, err := g.c.generateContent(ctx, ttsModel, generateRequest{
		Contents: []content{{Parts: []contentPart{{Text: text}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: voice}},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	inline := resp.firstInline()
	if inline == nil {
		return nil, provider.NewError("gemini", provider.KindUnknown, "no audio data returned")
	}
	pcm, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return &story.Asset{Data: wav.FromPCM(pcm, ttsSampleRate), Mime: "audio/wav"}, nil
}

// Validator checks a key with one minimal text generation.
type Validator struct{}

func (Validator) ValidateKey(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	c := NewClient(key)
	_, err := c.generateContent(ctx, textModel, generateRequest{
		Contents: []content{{Parts: []contentPart{{Text: "test"}}}},
	})
	return err == nil
}

// stripFence 去掉模型偶尔包裹的markdown代码块
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSuffix(s, "```")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
