package wizard

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"storytomedia/internal/config"
	"storytomedia/internal/provider"
	"storytomedia/internal/story"
)

type memKeyStore struct {
	keys config.Keys
}

func (m *memKeyStore) Load() (config.Keys, error) { return m.keys, nil }
func (m *memKeyStore) Save(k config.Keys) error   { m.keys = k; return nil }

type fakeSegmenter struct {
	parts []string
	err   error
}

func (f *fakeSegmenter) SegmentText(ctx context.Context, text string) ([]string, error) {
	return f.parts, f.err
}

type fakeImage struct{}

func (fakeImage) GenerateImage(ctx context.Context, req provider.ImageRequest) (*story.Asset, error) {
	return &story.Asset{Data: []byte("img"), Mime: "image/png"}, nil
}

type fakeAudio struct{}

func (fakeAudio) GenerateAudio(ctx context.Context, text, voice string) (*story.Asset, error) {
	return &story.Asset{Data: []byte("aud"), Mime: "audio/wav"}, nil
}

type fakeVideo struct{}

func (fakeVideo) GenerateVideo(ctx context.Context, req provider.VideoRequest) (*story.Asset, error) {
	return &story.Asset{Data: []byte("vid"), Mime: "video/mp4"}, nil
}

type fakePrompter struct {
	err       error
	rewritten string
}

func (f *fakePrompter) ScenePrompts(ctx context.Context, paragraph string, count int, style string) ([]provider.PromptPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	pairs := make([]provider.PromptPair, count)
	for i := range pairs {
		pairs[i] = provider.PromptPair{Start: "start of " + paragraph, End: "end of " + paragraph}
	}
	return pairs, nil
}

func (f *fakePrompter) RewritePrompt(ctx context.Context, paragraph, current string, kind story.ImageKind, style string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.rewritten, nil
}

type fixture struct {
	svc       *Service
	keyStore  *memKeyStore
	segmenter *fakeSegmenter
	prompter  *fakePrompter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		keyStore:  &memKeyStore{},
		segmenter: &fakeSegmenter{},
		prompter:  &fakePrompter{rewritten: "rewritten prompt"},
	}
	r := provider.NewRegistry()
	r.RegisterSegmenter(config.SegmentGemini, func(config.Keys) provider.Segmenter { return f.segmenter })
	r.RegisterImage(config.ImageGeminiFlash, func(config.Keys) provider.ImageGenerator { return fakeImage{} })
	r.RegisterAudio(config.AudioGeminiTTS, func(config.Keys) provider.AudioGenerator { return fakeAudio{} })
	r.RegisterVideo(config.VideoVeo, func(config.Keys) provider.VideoGenerator { return fakeVideo{} })
	r.RegisterPrompter(func(config.Keys) provider.Prompter { return f.prompter })
	f.svc = NewService(r, f.keyStore)
	return f
}

// 走完输入→切分→提交的前半程
func committedSession(t *testing.T, f *fixture, texts []string) *Session {
	t.Helper()
	s, err := f.svc.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	f.segmenter.parts = texts
	if _, err := f.svc.Segment(context.Background(), s, strings.Join(texts, "\n\n")); err != nil {
		t.Fatalf("Segment: %v", err)
	}
	s.settings.SceneCount = 1
	if err := f.svc.CommitSettings(s); err != nil {
		t.Fatalf("CommitSettings: %v", err)
	}
	return s
}

// waitForPass 等待树上所有节点到达终态
func waitForPass(t *testing.T, s *Session) {
	t.Helper()
	settled := func() bool {
		if s.orch.Running() {
			return false
		}
		for _, p := range s.store.Paragraphs() {
			if !p.AudioStatus.Terminal() {
				return false
			}
			for _, sc := range p.Scenes {
				if !sc.StartImageStatus.Terminal() || !sc.EndImageStatus.Terminal() || !sc.VideoStatus.Terminal() {
					return false
				}
			}
		}
		return true
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if settled() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("generation pass did not finish: %+v", s.Progress())
}

func TestNewSessionLoadsStoredKeys(t *testing.T) {
	f := newFixture(t)
	f.keyStore.keys = config.Keys{Google: "stored-key"}

	s, err := f.svc.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.settings.Keys.Google != "stored-key" {
		t.Errorf("session keys = %+v", s.settings.Keys)
	}
	if s.step != StepInput {
		t.Errorf("step = %s, want input", s.step)
	}

	got, err := f.svc.Session(s.ID)
	if err != nil || got != s {
		t.Errorf("Session lookup = %v, %v", got, err)
	}
	if _, err := f.svc.Session("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestSegmentFallsBackOnProviderFailure(t *testing.T) {
	f := newFixture(t)
	s, _ := f.svc.NewSession()
	f.segmenter.err = errors.New("model unavailable")

	parts, err := f.svc.Segment(context.Background(), s, "first paragraph\n\nsecond paragraph")
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(parts) != 2 || parts[0] != "first paragraph" {
		t.Errorf("fallback split = %v", parts)
	}
	if s.step != StepSegmentation {
		t.Errorf("step = %s, want segmentation", s.step)
	}
}

func TestCommitPreservesNarrationByText(t *testing.T) {
	f := newFixture(t)
	s := committedSession(t, f, []string{"kept", "edited"})

	keptID := s.store.Paragraphs()[0].ID
	if err := s.store.ApplyUpdate(keptID, "", story.Update{
		AudioStatus: story.StatusPtr(story.StatusSuccess),
		Audio:       &story.Asset{Data: []byte("narration"), Mime: "audio/wav"},
	}); err != nil {
		t.Fatal(err)
	}

	// 回退编辑第二段后重新提交
	f.svc.UpdateParagraphs(s, []string{"kept", "rewritten"})
	if err := f.svc.CommitSettings(s); err != nil {
		t.Fatalf("recommit: %v", err)
	}

	paragraphs := s.store.Paragraphs()
	if paragraphs[0].AudioStatus != story.StatusSuccess || paragraphs[0].Audio == nil {
		t.Error("unchanged paragraph lost its narration on recommit")
	}
	if paragraphs[1].AudioStatus != story.StatusIdle {
		t.Errorf("edited paragraph audio = %s, want idle", paragraphs[1].AudioStatus)
	}
}

func TestGeneratePromptsFallsBack(t *testing.T) {
	f := newFixture(t)
	s := committedSession(t, f, []string{"a very long paragraph about a castle"})
	f.prompter.err = errors.New("model unavailable")

	if err := f.svc.GeneratePrompts(context.Background(), s); err != nil {
		t.Fatalf("GeneratePrompts: %v", err)
	}
	scene := s.store.Paragraphs()[0].Scenes[0]
	if !strings.HasPrefix(scene.StartPrompt, "Scene from: ") {
		t.Errorf("fallback start prompt = %q", scene.StartPrompt)
	}
	if scene.EndPrompt != "Camera zooms out." {
		t.Errorf("fallback end prompt = %q", scene.EndPrompt)
	}
}

func TestRewritePromptKeepsCurrentOnFailure(t *testing.T) {
	f := newFixture(t)
	s := committedSession(t, f, []string{"text"})
	p := s.store.Paragraphs()[0]
	scene := p.Scenes[0]
	if err := f.svc.SetPrompt(s, p.ID, scene.ID, story.ImageStart, "original"); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.RewritePrompt(context.Background(), s, p.ID, scene.ID, story.ImageStart)
	if err != nil || got != "rewritten prompt" {
		t.Fatalf("rewrite = %q, %v", got, err)
	}
	if scene.StartPrompt != "rewritten prompt" {
		t.Errorf("prompt not stored: %q", scene.StartPrompt)
	}

	f.prompter.err = errors.New("model unavailable")
	got, err = f.svc.RewritePrompt(context.Background(), s, p.ID, scene.ID, story.ImageStart)
	if err != nil {
		t.Fatalf("rewrite failure should not error: %v", err)
	}
	if got != "rewritten prompt" || scene.StartPrompt != "rewritten prompt" {
		t.Errorf("failed rewrite changed the prompt: %q", scene.StartPrompt)
	}
}

func TestStartGenerationRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	s := committedSession(t, f, []string{"one", "two"})
	if err := f.svc.GeneratePrompts(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.StartGeneration(s); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if s.step != StepGeneration {
		t.Errorf("step = %s, want generation", s.step)
	}
	waitForPass(t, s)

	for _, p := range s.store.Paragraphs() {
		if p.AudioStatus != story.StatusSuccess {
			t.Errorf("audio = %s, want success", p.AudioStatus)
		}
		for _, sc := range p.Scenes {
			if sc.VideoStatus != story.StatusSuccess {
				t.Errorf("video = %s, want success", sc.VideoStatus)
			}
		}
	}
	if pr := s.Progress(); pr.Percent != 100 {
		t.Errorf("progress = %+v, want 100%%", pr)
	}
}

func TestStartGenerationRequiresCommit(t *testing.T) {
	f := newFixture(t)
	s, _ := f.svc.NewSession()
	if err := f.svc.StartGeneration(s); !errors.Is(err, ErrNotCommitted) {
		t.Errorf("err = %v, want ErrNotCommitted", err)
	}
}

func TestRegenerateImageRunsSingleNode(t *testing.T) {
	f := newFixture(t)
	s := committedSession(t, f, []string{"one"})
	if err := f.svc.GeneratePrompts(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.StartGeneration(s); err != nil {
		t.Fatal(err)
	}
	waitForPass(t, s)

	p := s.store.Paragraphs()[0]
	scene := p.Scenes[0]
	if err := f.svc.RegenerateImage(s, p.ID, scene.ID, story.ImageStart); err != nil {
		t.Fatalf("RegenerateImage: %v", err)
	}
	waitForPass(t, s)

	if scene.StartImageStatus != story.StatusSuccess || scene.VideoStatus != story.StatusSuccess {
		t.Errorf("after regenerate: start=%s video=%s", scene.StartImageStatus, scene.VideoStatus)
	}
}

func TestExportProducesArchive(t *testing.T) {
	f := newFixture(t)
	s := committedSession(t, f, []string{"one"})

	var buf bytes.Buffer
	if err := f.svc.Export(s, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	// zip魔数
	if !bytes.HasPrefix(buf.Bytes(), []byte("PK")) {
		t.Error("export output is not a zip archive")
	}

	fresh, _ := f.svc.NewSession()
	if err := f.svc.Export(fresh, &buf); !errors.Is(err, ErrNotCommitted) {
		t.Errorf("export before commit = %v, want ErrNotCommitted", err)
	}
}

func TestSaveKeysPersists(t *testing.T) {
	f := newFixture(t)
	want := config.Keys{ElevenLabs: "el-key"}
	if err := f.svc.SaveKeys(want); err != nil {
		t.Fatalf("SaveKeys: %v", err)
	}
	if f.keyStore.keys != want {
		t.Errorf("stored keys = %+v", f.keyStore.keys)
	}
}

func TestParagraphsReturnsDetachedSnapshot(t *testing.T) {
	f := newFixture(t)
	fresh, _ := f.svc.NewSession()
	if got := fresh.Paragraphs(); got != nil {
		t.Errorf("paragraphs before commit = %v, want nil", got)
	}

	s := committedSession(t, f, []string{"one"})
	snap := s.Paragraphs()
	if len(snap) != 1 {
		t.Fatalf("snapshot paragraphs = %d, want 1", len(snap))
	}
	// 返回的是副本，调用方改动不会写回会话树
	snap[0].AudioStatus = story.StatusError
	snap[0].Scenes[0].VideoStatus = story.StatusError
	live := s.store.Paragraphs()[0]
	if live.AudioStatus != story.StatusIdle || live.Scenes[0].VideoStatus != story.StatusIdle {
		t.Errorf("snapshot edit leaked into session: audio=%s video=%s",
			live.AudioStatus, live.Scenes[0].VideoStatus)
	}
}

func TestFallbackPromptsCutOnRunes(t *testing.T) {
	text := strings.Repeat("城", 30)
	pairs := fallbackPrompts(text, 2)
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}
	want := "Scene from: " + strings.Repeat("城", 20) + "..."
	if pairs[0].Start != want {
		t.Errorf("start prompt = %q, want %q", pairs[0].Start, want)
	}
	if !utf8.ValidString(pairs[0].Start) {
		t.Errorf("start prompt is not valid UTF-8: %q", pairs[0].Start)
	}

	// 短文本原样保留
	short := fallbackPrompts("短", 1)
	if short[0].Start != "Scene from: 短..." {
		t.Errorf("short prompt = %q", short[0].Start)
	}
}
