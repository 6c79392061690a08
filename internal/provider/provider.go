// Package provider defines the uniform capability contracts the
// orchestrator sees. Vendors differ wildly in call shape (single
// request vs create-then-poll, ratio string vs pixel dimensions, raw
// PCM vs container audio); everything vendor-specific stays behind
// these five signatures.
package provider

import (
	"context"
	"regexp"
	"strings"

	"storytomedia/internal/story"
)

// PromptPair is the start/end visual description of one scene.
type PromptPair struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ImageRequest carries everything an image adapter needs for one call.
// AspectRatio is the "w:h" string from the settings; adapters that want
// pixel dimensions normalize it themselves (see RatioToPixels).
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	Style       string
}

// VideoRequest asks for a transition video interpolating between two
// already-generated frame images.
type VideoRequest struct {
	Start  *story.Asset
	End    *story.Asset
	Prompt string
}

// Segmenter splits a story text into paragraph texts. Implementations
// return an error on network/parse failure; callers fall back to
// SplitBlankLines rather than aborting the wizard.
type Segmenter interface {
	SegmentText(ctx context.Context, text string) ([]string, error)
}

// ImageGenerator produces one still image per call.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*story.Asset, error)
}

// AudioGenerator produces narration audio in a playable container.
type AudioGenerator interface {
	GenerateAudio(ctx context.Context, text, voice string) (*story.Asset, error)
}

// VideoGenerator produces a transition video. Implementations poll
// their long-running job internally with a bounded interval and a
// bounded attempt cap; exceeding the cap yields a *TimeoutError.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req VideoRequest) (*story.Asset, error)
}

// KeyValidator makes one cheap request. It never returns an error:
// network failures and 4xx/5xx all collapse to false.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) bool
}

// Prompter turns a paragraph into scene prompt pairs and rewrites a
// single prompt on demand.
type Prompter interface {
	ScenePrompts(ctx context.Context, paragraph string, count int, style string) ([]PromptPair, error)
	RewritePrompt(ctx context.Context, paragraph, current string, kind story.ImageKind, style string) (string, error)
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// SplitBlankLines is the deterministic local segmentation fallback:
// split on blank lines, drop empty chunks.
func SplitBlankLines(text string) []string {
	var out []string
	for _, chunk := range blankLine.Split(text, -1) {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RatioToPixels converts a "w:h" ratio string into pixel dimensions
// with the long side pinned to base. Malformed ratios fall back to a
// base x base square.
func RatioToPixels(ratio string, base int) (width, height int) {
	parts := strings.SplitN(ratio, ":", 2)
	if len(parts) != 2 {
		return base, base
	}
	w := atoiSafe(parts[0])
	h := atoiSafe(parts[1])
	if w <= 0 || h <= 0 {
		return base, base
	}
	if w >= h {
		return base, int(float64(base)*float64(h)/float64(w) + 0.5)
	}
	return int(float64(base)*float64(w)/float64(h) + 0.5), base
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}
