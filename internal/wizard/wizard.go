// Package wizard holds the per-session state machine behind the
// step-by-step UI: story input, segmentation, settings, prompt review,
// generation, download. Sessions live in memory for the lifetime of
// the process.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storytomedia/internal/config"
	"storytomedia/internal/export"
	"storytomedia/internal/orchestrator"
	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

// Step 向导所处的步骤
type Step string

const (
	StepInput        Step = "input"
	StepSegmentation Step = "segmentation"
	StepSettings     Step = "settings"
	StepPrompts      Step = "prompts"
	StepGeneration   Step = "generation"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotCommitted    = errors.New("settings have not been committed yet")
)

// Session 一次向导会话的全部状态。可变字段由mu保护：
// 生成goroutine与HTTP轮询会并发访问同一会话。
type Session struct {
	ID string

	mu             sync.Mutex
	step           Step
	storyText      string
	paragraphTexts []string
	settings       config.Settings
	store          *story.Store
	orch           *orchestrator.Orchestrator
	suite          *provider.Suite
	progress       orchestrator.Progress
}

// Step returns the wizard step the session is on.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Settings returns a copy of the current generation settings.
func (s *Session) Settings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Paragraphs returns a deep snapshot of the asset tree, safe to
// marshal while a generation pass is rewriting node fields. Nil
// before the settings commit.
func (s *Session) Paragraphs() []*story.Paragraph {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.Snapshot()
}

// Progress returns the latest aggregate accounting pushed by the
// orchestrator.
func (s *Session) Progress() orchestrator.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Session) setProgress(p orchestrator.Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// components reads the post-commit trio under the lock. All three are
// nil before CommitSettings and replaced together on re-commit.
func (s *Session) components() (*story.Store, *orchestrator.Orchestrator, *provider.Suite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store, s.orch, s.suite
}

// Service owns all sessions and the provider registry.
type Service struct {
	registry *provider.Registry
	keyStore config.KeyStore
	log      *logrus.Entry

	sessionMu sync.RWMutex
	sessions  map[string]*Session
}

func NewService(registry *provider.Registry, keyStore config.KeyStore) *Service {
	return &Service{
		registry: registry,
		keyStore: keyStore,
		log:      logrus.WithField("component", "wizard"),
		sessions: make(map[string]*Session),
	}
}

// NewSession 创建新会话，凭证在创建时从key store加载一次
func (w *Service) NewSession() (*Session, error) {
	keys, err := w.keyStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load stored keys: %w", err)
	}
	set := config.DefaultSettings()
	set.Keys = keys

	s := &Session{
		ID:       uuid.NewString(),
		step:     StepInput,
		settings: set,
	}
	w.sessionMu.Lock()
	w.sessions[s.ID] = s
	w.sessionMu.Unlock()
	return s, nil
}

func (w *Service) Session(id string) (*Session, error) {
	w.sessionMu.RLock()
	defer w.sessionMu.RUnlock()
	s, ok := w.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Segment splits the story text with the configured segmentation
// method. A provider failure is never fatal here: the deterministic
// blank-line splitter takes over and the wizard moves on.
func (w *Service) Segment(ctx context.Context, s *Session, text string) ([]string, error) {
	suite, err := w.registry.Resolve(s.Settings())
	if err != nil {
		return nil, err
	}
	parts, err := suite.Segmenter.SegmentText(ctx, text)
	if err != nil || len(parts) == 0 {
		if err != nil {
			w.log.WithError(err).Warn("segmentation provider failed, using blank-line split")
		}
		parts = provider.SplitBlankLines(text)
	}
	s.mu.Lock()
	s.storyText = text
	s.paragraphTexts = parts
	s.step = StepSegmentation
	s.mu.Unlock()
	return parts, nil
}

// UpdateParagraphs stores the user-edited paragraph list.
func (w *Service) UpdateParagraphs(s *Session, texts []string) {
	s.mu.Lock()
	s.paragraphTexts = texts
	s.mu.Unlock()
}

// UpdateSettings replaces the session settings before commit.
func (w *Service) UpdateSettings(s *Session, set config.Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = set
	s.step = StepSettings
	s.mu.Unlock()
	return nil
}

// CommitSettings freezes the scene count and builds the asset tree.
// This is the explicit commit step: changing the scene count later
// requires committing again, which rebuilds the tree (audio survives
// for paragraphs whose text is unchanged).
func (w *Service) CommitSettings(s *Session) error {
	s.mu.Lock()
	texts := s.paragraphTexts
	set := s.settings
	prev := s.store
	s.mu.Unlock()

	if len(texts) == 0 {
		return errors.New("no paragraphs to commit")
	}
	if err := set.Validate(); err != nil {
		return err
	}
	suite, err := w.registry.Resolve(set)
	if err != nil {
		return err
	}

	store := story.NewStore(texts, set.SceneCount, prev)
	orch := orchestrator.New(store, suite, set)
	orch.OnProgress = s.setProgress

	s.mu.Lock()
	s.store = store
	s.suite = suite
	s.orch = orch
	s.step = StepPrompts
	s.mu.Unlock()
	return nil
}

// GeneratePrompts fills in every scene's start/end prompt pair. Parse
// or provider failures degrade to deterministic placeholder prompts so
// the wizard never blocks on the storyboard step.
func (w *Service) GeneratePrompts(ctx context.Context, s *Session) error {
	st, _, suite := s.components()
	if st == nil || suite == nil {
		return ErrNotCommitted
	}
	style := s.Settings().Style
	for _, p := range st.Paragraphs() {
		pairs, err := suite.Prompter.ScenePrompts(ctx, p.Text, len(p.Scenes), style)
		if err != nil || len(pairs) != len(p.Scenes) {
			if err != nil {
				w.log.WithField("paragraph", p.ID).WithError(err).
					Warn("prompt generation failed, using fallback prompts")
			}
			pairs = fallbackPrompts(p.Text, len(p.Scenes))
		}
		for i, scene := range p.Scenes {
			if err := st.SetPrompts(p.ID, scene.ID, pairs[i].Start, pairs[i].End); err != nil {
				return err
			}
		}
	}
	return nil
}

func fallbackPrompts(text string, count int) []provider.PromptPair {
	// 按rune截断，多字节文本不能从字节中间切开
	snippet := []rune(text)
	if len(snippet) > 20 {
		snippet = snippet[:20]
	}
	pairs := make([]provider.PromptPair, count)
	for i := range pairs {
		pairs[i] = provider.PromptPair{
			Start: fmt.Sprintf("Scene from: %s...", string(snippet)),
			End:   "Camera zooms out.",
		}
	}
	return pairs
}

// SetPrompt overwrites one prompt manually.
func (w *Service) SetPrompt(s *Session, paragraphID, sceneID string, kind story.ImageKind, text string) error {
	st, _, _ := s.components()
	if st == nil {
		return ErrNotCommitted
	}
	p := st.Paragraph(paragraphID)
	if p == nil {
		return fmt.Errorf("paragraph %s not found", paragraphID)
	}
	scene := p.Scene(sceneID)
	if scene == nil {
		return fmt.Errorf("scene %s not found", sceneID)
	}
	start, end := scene.StartPrompt, scene.EndPrompt
	if kind == story.ImageStart {
		start = text
	} else {
		end = text
	}
	return st.SetPrompts(paragraphID, sceneID, start, end)
}

// RewritePrompt asks the prompter for a fresh take on one prompt. On
// failure the current prompt is kept, mirroring the manual-retry
// philosophy of the rest of the pipeline.
func (w *Service) RewritePrompt(ctx context.Context, s *Session, paragraphID, sceneID string, kind story.ImageKind) (string, error) {
	st, _, suite := s.components()
	if st == nil || suite == nil {
		return "", ErrNotCommitted
	}
	p := st.Paragraph(paragraphID)
	if p == nil {
		return "", fmt.Errorf("paragraph %s not found", paragraphID)
	}
	scene := p.Scene(sceneID)
	if scene == nil {
		return "", fmt.Errorf("scene %s not found", sceneID)
	}
	current := scene.StartPrompt
	if kind == story.ImageEnd {
		current = scene.EndPrompt
	}
	rewritten, err := suite.Prompter.RewritePrompt(ctx, p.Text, current, kind, s.Settings().Style)
	if err != nil {
		w.log.WithError(err).Warn("prompt rewrite failed, keeping current prompt")
		return current, nil
	}
	if err := w.SetPrompt(s, paragraphID, sceneID, kind, rewritten); err != nil {
		return "", err
	}
	return rewritten, nil
}

// StartGeneration launches one orchestrator pass in the background.
// A second request while a pass is active is rejected with
// orchestrator.ErrRunInProgress rather than queued.
func (w *Service) StartGeneration(s *Session) error {
	s.mu.Lock()
	orch := s.orch
	if orch == nil {
		s.mu.Unlock()
		return ErrNotCommitted
	}
	if orch.Running() {
		s.mu.Unlock()
		return orchestrator.ErrRunInProgress
	}
	s.step = StepGeneration
	s.mu.Unlock()

	go func() {
		if err := orch.Run(context.Background()); err != nil {
			w.log.WithField("session", s.ID).WithError(err).Warn("generation pass ended early")
		}
	}()
	return nil
}

// RegenerateImage resets one frame (and its dependent video) and kicks
// off a new pass. Rejected while a pass is in flight so two passes can
// never double-schedule the same node.
func (w *Service) RegenerateImage(s *Session, paragraphID, sceneID string, kind story.ImageKind) error {
	_, orch, _ := s.components()
	if orch == nil {
		return ErrNotCommitted
	}
	if orch.Running() {
		return orchestrator.ErrRunInProgress
	}
	if err := orch.ResetImage(paragraphID, sceneID, kind); err != nil {
		return err
	}
	return w.StartGeneration(s)
}

// Export streams the asset archive to out. The archive is built from a
// snapshot, so exporting during a pass yields a consistent tree.
func (w *Service) Export(s *Session, out io.Writer) error {
	st, _, _ := s.components()
	if st == nil {
		return ErrNotCommitted
	}
	if err := export.Write(out, st.Snapshot()); err != nil {
		return fmt.Errorf("export archive: %w", err)
	}
	return nil
}

// ValidateKey runs the named vendor's key check.
func (w *Service) ValidateKey(ctx context.Context, vendor, key string) bool {
	return w.registry.ValidateKey(ctx, vendor, key)
}

// SaveKeys persists credentials for future sessions.
func (w *Service) SaveKeys(keys config.Keys) error {
	return w.keyStore.Save(keys)
}
