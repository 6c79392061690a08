package provider

import (
	"context"
	"fmt"

	"storytomedia/internal/config"
)

// Adapter factories. Credentials belong to one run's settings, so the
// registry holds constructors rather than instances: wiring code
// registers every vendor once at startup, Resolve builds the concrete
// suite for a run from the settings. Engine dispatch happens in exactly
// one place instead of scattered string comparisons.
type (
	SegmenterFactory func(config.Keys) Segmenter
	ImageFactory     func(config.Keys) ImageGenerator
	AudioFactory     func(config.Keys) AudioGenerator
	VideoFactory     func(config.Keys) VideoGenerator
	PrompterFactory  func(config.Keys) Prompter
)

type Registry struct {
	segmenters map[config.SegmentationMethod]SegmenterFactory
	images     map[config.ImageEngine]ImageFactory
	audios     map[config.AudioEngine]AudioFactory
	videos     map[config.VideoEngine]VideoFactory
	validators map[string]KeyValidator
	prompter   PrompterFactory
}

func NewRegistry() *Registry {
	return &Registry{
		segmenters: make(map[config.SegmentationMethod]SegmenterFactory),
		images:     make(map[config.ImageEngine]ImageFactory),
		audios:     make(map[config.AudioEngine]AudioFactory),
		videos:     make(map[config.VideoEngine]VideoFactory),
		validators: make(map[string]KeyValidator),
	}
}

func (r *Registry) RegisterSegmenter(tag config.SegmentationMethod, f SegmenterFactory) {
	r.segmenters[tag] = f
}

func (r *Registry) RegisterImage(tag config.ImageEngine, f ImageFactory) {
	r.images[tag] = f
}

func (r *Registry) RegisterAudio(tag config.AudioEngine, f AudioFactory) {
	r.audios[tag] = f
}

func (r *Registry) RegisterVideo(tag config.VideoEngine, f VideoFactory) {
	r.videos[tag] = f
}

func (r *Registry) RegisterValidator(name string, v KeyValidator) {
	r.validators[name] = v
}

func (r *Registry) RegisterPrompter(f PrompterFactory) {
	r.prompter = f
}

// ValidateKey runs the named vendor's cheap key check. Unknown vendors
// report false, same as any other validation failure.
func (r *Registry) ValidateKey(ctx context.Context, name, key string) bool {
	v, ok := r.validators[name]
	if !ok {
		return false
	}
	return v.ValidateKey(ctx, key)
}

// Suite is the set of adapters one run uses, resolved once from the
// settings and never re-resolved mid-run.
type Suite struct {
	Segmenter Segmenter
	Image     ImageGenerator
	Audio     AudioGenerator
	Video     VideoGenerator
	Prompter  Prompter
}

// Resolve builds the adapters selected by the settings. Audio and video
// adapters are only required when the corresponding feature is enabled.
func (r *Registry) Resolve(set config.Settings) (*Suite, error) {
	suite := &Suite{}
	if r.prompter != nil {
		suite.Prompter = r.prompter(set.Keys)
	}

	sf, ok := r.segmenters[set.Segmentation]
	if !ok {
		return nil, fmt.Errorf("no segmenter registered for %q", set.Segmentation)
	}
	suite.Segmenter = sf(set.Keys)

	imf, ok := r.images[set.ImageEngine]
	if !ok {
		return nil, fmt.Errorf("no image engine registered for %q", set.ImageEngine)
	}
	suite.Image = imf(set.Keys)

	if set.GenerateAudio {
		af, ok := r.audios[set.AudioEngine]
		if !ok {
			return nil, fmt.Errorf("no audio engine registered for %q", set.AudioEngine)
		}
		suite.Audio = af(set.Keys)
	}
	if set.GenerateVideo {
		vf, ok := r.videos[set.VideoEngine]
		if !ok {
			return nil, fmt.Errorf("no video engine registered for %q", set.VideoEngine)
		}
		suite.Video = vf(set.Keys)
	}
	return suite, nil
}
