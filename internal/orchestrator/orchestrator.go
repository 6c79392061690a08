// Package orchestrator drives every paragraph and scene of a story to
// a terminal status with minimal redundant work. The scheduling rule is
// deliberately simple: on every pass, anything not already successful
// is attempted again, so resuming after a partial failure never redoes
// completed work and a single-node reset naturally re-schedules exactly
// the reset nodes.
package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"storytomedia/internal/config"
	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

// ErrRunInProgress is returned when a pass is requested while another
// one is still active. Callers retry after the current pass settles;
// nothing is queued, so two passes can never double-schedule a task.
var ErrRunInProgress = errors.New("a generation pass is already running")

// Progress is the aggregate task accounting of one pass.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

// Orchestrator walks the asset tree of one wizard session. Settings and
// the adapter suite are fixed at construction; the store is the only
// thing it mutates.
type Orchestrator struct {
	store *story.Store
	suite *provider.Suite
	set   config.Settings
	log   *logrus.Entry

	// ParallelImages generates a scene's two frames concurrently.
	// Off by default: sequential calls are friendlier to per-key rate
	// limits, which matters more than throughput here.
	ParallelImages bool

	// OnProgress, when set, is invoked after every task settles.
	OnProgress func(Progress)

	mu        sync.Mutex
	running   bool
	completed int
	total     int
}

func New(store *story.Store, suite *provider.Suite, set config.Settings) *Orchestrator {
	return &Orchestrator{
		store: store,
		suite: suite,
		set:   set,
		log:   logrus.WithField("component", "orchestrator"),
	}
}

// Running reports whether a pass is currently active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Progress returns the current task accounting.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Progress {
	p := Progress{Completed: o.completed, Total: o.total}
	if o.total > 0 {
		p.Percent = int(float64(o.completed)/float64(o.total)*100 + 0.5)
	}
	return p
}

// Run performs one full pass over the tree. Paragraphs are visited in
// story order; one failed task never blocks the rest of the pass. Only
// one pass may be in flight per orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrRunInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	paragraphs := o.store.Paragraphs()
	o.initAccounting(paragraphs)
	o.notify()

	for _, p := range paragraphs {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.processParagraph(ctx, p)
	}
	o.log.WithFields(logrus.Fields{
		"completed": o.Progress().Completed,
		"total":     o.Progress().Total,
	}).Info("generation pass finished")
	return nil
}

// initAccounting fixes the total task count for this pass and seeds the
// completed counter with work finished in earlier passes, so a resumed
// run never shows a lower percentage than before.
func (o *Orchestrator) initAccounting(paragraphs []*story.Paragraph) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total = 0
	o.completed = 0
	for _, p := range paragraphs {
		if o.set.GenerateAudio {
			o.total++
			if p.AudioStatus == story.StatusSuccess || p.AudioStatus == story.StatusSkipped {
				o.completed++
			}
		}
		for _, s := range p.Scenes {
			o.total += 2
			if s.StartImageStatus == story.StatusSuccess {
				o.completed++
			}
			if s.EndImageStatus == story.StatusSuccess {
				o.completed++
			}
			if o.set.GenerateVideo {
				// Skipped videos are not baseline-completed: a skipped
				// video is re-evaluated every pass (its missing frame
				// may recover this pass) and settles again either way.
				o.total++
				if s.VideoStatus == story.StatusSuccess {
					o.completed++
				}
			}
		}
	}
}

func (o *Orchestrator) settle() {
	o.mu.Lock()
	o.completed++
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) notify() {
	if o.OnProgress == nil {
		return
	}
	o.mu.Lock()
	p := o.snapshotLocked()
	o.mu.Unlock()
	o.OnProgress(p)
}

func (o *Orchestrator) processParagraph(ctx context.Context, p *story.Paragraph) {
	o.processAudio(ctx, p)
	for _, s := range p.Scenes {
		o.processScene(ctx, p, s)
	}
}

func (o *Orchestrator) processAudio(ctx context.Context, p *story.Paragraph) {
	if !o.set.GenerateAudio {
		// Disabled kinds are skipped unconditionally and do not count
		// as tasks.
		if p.AudioStatus != story.StatusSkipped {
			o.update(p.ID, "", story.Update{AudioStatus: story.StatusPtr(story.StatusSkipped)})
		}
		return
	}
	if p.AudioStatus == story.StatusSuccess || p.AudioStatus == story.StatusSkipped {
		return
	}

	o.update(p.ID, "", story.Update{AudioStatus: story.StatusPtr(story.StatusPending)})
	asset, err := o.suite.Audio.GenerateAudio(ctx, p.Text, o.set.AudioVoice)
	if err != nil {
		o.log.WithField("paragraph", p.ID).WithError(err).Warn("audio generation failed")
		o.update(p.ID, "", story.Update{
			AudioStatus:   story.StatusPtr(story.StatusError),
			AudioErrorMsg: story.StringPtr(err.Error()),
		})
	} else {
		o.update(p.ID, "", story.Update{
			AudioStatus: story.StatusPtr(story.StatusSuccess),
			Audio:       asset,
		})
	}
	o.settle()
}

func (o *Orchestrator) processScene(ctx context.Context, p *story.Paragraph, s *story.Scene) {
	if o.ParallelImages {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { o.processImage(gctx, p, s, story.ImageStart); return nil })
		g.Go(func() error { o.processImage(gctx, p, s, story.ImageEnd); return nil })
		g.Wait()
	} else {
		o.processImage(ctx, p, s, story.ImageStart)
		o.processImage(ctx, p, s, story.ImageEnd)
	}
	o.processVideo(ctx, p, s)
}

func (o *Orchestrator) processImage(ctx context.Context, p *story.Paragraph, s *story.Scene, kind story.ImageKind) {
	status := s.StartImageStatus
	prompt := s.StartPrompt
	if kind == story.ImageEnd {
		status = s.EndImageStatus
		prompt = s.EndPrompt
	}
	if status == story.StatusSuccess {
		return
	}

	o.updateImage(p.ID, s.ID, kind, story.StatusPending, nil, "")
	asset, err := o.suite.Image.GenerateImage(ctx, provider.ImageRequest{
		Prompt:      prompt,
		AspectRatio: o.set.AspectRatio,
		Style:       o.set.Style,
	})
	if err != nil {
		o.log.WithFields(logrus.Fields{"scene": s.ID, "image": kind}).
			WithError(err).Warn("image generation failed")
		o.updateImage(p.ID, s.ID, kind, story.StatusError, nil, err.Error())
	} else {
		o.updateImage(p.ID, s.ID, kind, story.StatusSuccess, asset, "")
	}
	o.settle()
}

// processVideo applies the dependency rule: a transition video is only
// attempted once both frames are successful. If either frame is still
// missing after its attempt, the video settles as skipped rather than
// lingering pending. Skipped is not final between passes: the next
// pass re-checks the frames and runs the video as soon as both exist.
func (o *Orchestrator) processVideo(ctx context.Context, p *story.Paragraph, s *story.Scene) {
	if !o.set.GenerateVideo {
		if s.VideoStatus != story.StatusSkipped {
			o.update(p.ID, s.ID, story.Update{VideoStatus: story.StatusPtr(story.StatusSkipped)})
		}
		return
	}
	if s.VideoStatus == story.StatusSuccess {
		return
	}

	if s.StartImageStatus != story.StatusSuccess || s.EndImageStatus != story.StatusSuccess {
		o.update(p.ID, s.ID, story.Update{VideoStatus: story.StatusPtr(story.StatusSkipped)})
		o.settle()
		return
	}

	o.update(p.ID, s.ID, story.Update{VideoStatus: story.StatusPtr(story.StatusPending)})
	asset, err := o.suite.Video.GenerateVideo(ctx, provider.VideoRequest{
		Start:  s.StartImage,
		End:    s.EndImage,
		Prompt: s.StartPrompt,
	})
	if err != nil {
		o.log.WithField("scene", s.ID).WithError(err).Warn("video generation failed")
		o.update(p.ID, s.ID, story.Update{
			VideoStatus: story.StatusPtr(story.StatusError),
			ErrorMsg:    story.StringPtr(err.Error()),
		})
	} else {
		o.update(p.ID, s.ID, story.Update{
			VideoStatus: story.StatusPtr(story.StatusSuccess),
			Video:       asset,
		})
	}
	o.settle()
}

// ResetImage prepares a single frame image for regeneration: the image
// goes back to idle and the dependent video is reset with it. The next
// pass re-schedules exactly these two nodes and nothing else.
func (o *Orchestrator) ResetImage(paragraphID, sceneID string, kind story.ImageKind) error {
	return o.store.ResetImage(paragraphID, sceneID, kind)
}

func (o *Orchestrator) update(paragraphID, sceneID string, u story.Update) {
	if err := o.store.ApplyUpdate(paragraphID, sceneID, u); err != nil {
		o.log.WithError(err).Error("state update failed")
	}
}

func (o *Orchestrator) updateImage(paragraphID, sceneID string, kind story.ImageKind, status story.Status, asset *story.Asset, errMsg string) {
	u := story.Update{}
	if kind == story.ImageStart {
		u.StartImageStatus = story.StatusPtr(status)
		u.StartImage = asset
	} else {
		u.EndImageStatus = story.StatusPtr(status)
		u.EndImage = asset
	}
	if errMsg != "" {
		u.ErrorMsg = story.StringPtr(errMsg)
	}
	o.update(paragraphID, sceneID, u)
}
