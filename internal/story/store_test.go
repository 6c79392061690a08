package story

import (
	"strings"
	"testing"
)

func TestNewStoreBuildsTree(t *testing.T) {
	s := NewStore([]string{"first", "second"}, 3, nil)
	paragraphs := s.Paragraphs()
	if len(paragraphs) != 2 {
		t.Fatalf("paragraphs = %d, want 2", len(paragraphs))
	}
	seen := map[string]bool{}
	for _, p := range paragraphs {
		if p.ID == "" || seen[p.ID] {
			t.Errorf("paragraph id %q not unique", p.ID)
		}
		seen[p.ID] = true
		if p.AudioStatus != StatusIdle {
			t.Errorf("audio status = %s, want idle", p.AudioStatus)
		}
		if len(p.Scenes) != 3 {
			t.Fatalf("scenes = %d, want 3", len(p.Scenes))
		}
		for _, sc := range p.Scenes {
			if sc.StartImageStatus != StatusIdle || sc.EndImageStatus != StatusIdle || sc.VideoStatus != StatusIdle {
				t.Errorf("scene %s not idle: %s/%s/%s", sc.ID, sc.StartImageStatus, sc.EndImageStatus, sc.VideoStatus)
			}
		}
	}
}

func TestNewStorePreservesAudioByText(t *testing.T) {
	prev := NewStore([]string{"kept", "dropped"}, 1, nil)
	keptID := prev.Paragraphs()[0].ID
	if err := prev.ApplyUpdate(keptID, "", Update{
		AudioStatus: StatusPtr(StatusSuccess),
		Audio:       &Asset{Data: []byte("narration"), Mime: "audio/wav"},
	}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	// 回退重新提交：同文本的段落保留旁白，编辑过的从头再来
	next := NewStore([]string{"kept", "edited"}, 2, prev)
	paragraphs := next.Paragraphs()

	kept := paragraphs[0]
	if kept.ID != keptID {
		t.Errorf("kept paragraph id changed: %s -> %s", keptID, kept.ID)
	}
	if kept.AudioStatus != StatusSuccess || kept.Audio == nil {
		t.Errorf("kept paragraph lost its narration: status=%s", kept.AudioStatus)
	}
	if len(kept.Scenes) != 2 {
		t.Errorf("scene count not rebuilt: %d, want 2", len(kept.Scenes))
	}

	edited := paragraphs[1]
	if edited.AudioStatus != StatusIdle || edited.Audio != nil {
		t.Errorf("edited paragraph inherited audio: status=%s", edited.AudioStatus)
	}
}

func TestApplyUpdateMergesPartially(t *testing.T) {
	s := NewStore([]string{"text"}, 1, nil)
	p := s.Paragraphs()[0]
	sc := p.Scenes[0]

	if err := s.ApplyUpdate(p.ID, sc.ID, Update{
		StartImageStatus: StatusPtr(StatusSuccess),
		StartImage:       &Asset{Data: []byte("img"), Mime: "image/png"},
	}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if sc.StartImageStatus != StatusSuccess || sc.StartImage == nil {
		t.Errorf("start image not merged: %s", sc.StartImageStatus)
	}
	if sc.EndImageStatus != StatusIdle || sc.VideoStatus != StatusIdle {
		t.Errorf("unrelated fields changed: end=%s video=%s", sc.EndImageStatus, sc.VideoStatus)
	}

	if err := s.ApplyUpdate(p.ID, "", Update{
		AudioStatus:   StatusPtr(StatusError),
		AudioErrorMsg: StringPtr("quota exceeded"),
	}); err != nil {
		t.Fatalf("ApplyUpdate audio: %v", err)
	}
	if p.AudioStatus != StatusError || p.AudioErrorMsg != "quota exceeded" {
		t.Errorf("audio fields not merged: %s %q", p.AudioStatus, p.AudioErrorMsg)
	}

	if err := s.ApplyUpdate("missing", "", Update{}); err == nil {
		t.Error("unknown paragraph accepted")
	}
	if err := s.ApplyUpdate(p.ID, "missing", Update{}); err == nil {
		t.Error("unknown scene accepted")
	}
}

func TestResetImageClearsPayloadAndVideo(t *testing.T) {
	s := NewStore([]string{"text"}, 1, nil)
	p := s.Paragraphs()[0]
	sc := p.Scenes[0]
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.ApplyUpdate(p.ID, sc.ID, Update{
		StartImageStatus: StatusPtr(StatusSuccess),
		StartImage:       &Asset{Data: []byte("a"), Mime: "image/png"},
		EndImageStatus:   StatusPtr(StatusSuccess),
		EndImage:         &Asset{Data: []byte("b"), Mime: "image/png"},
		VideoStatus:      StatusPtr(StatusSuccess),
		Video:            &Asset{Data: []byte("v"), Mime: "video/mp4"},
	}))

	must(s.ResetImage(p.ID, sc.ID, ImageStart))

	if sc.StartImageStatus != StatusIdle || sc.StartImage != nil {
		t.Errorf("start image not cleared: %s", sc.StartImageStatus)
	}
	if sc.VideoStatus != StatusIdle || sc.Video != nil {
		t.Errorf("dependent video not cleared: %s", sc.VideoStatus)
	}
	if sc.EndImageStatus != StatusSuccess || sc.EndImage == nil {
		t.Errorf("end image should survive a start reset: %s", sc.EndImageStatus)
	}

	if err := s.ResetImage(p.ID, "missing", ImageEnd); err == nil {
		t.Error("unknown scene accepted")
	}
}

func TestSetPrompts(t *testing.T) {
	s := NewStore([]string{"text"}, 1, nil)
	p := s.Paragraphs()[0]
	sc := p.Scenes[0]

	if err := s.SetPrompts(p.ID, sc.ID, "wide shot", "close up"); err != nil {
		t.Fatalf("SetPrompts: %v", err)
	}
	if sc.StartPrompt != "wide shot" || sc.EndPrompt != "close up" {
		t.Errorf("prompts = %q/%q", sc.StartPrompt, sc.EndPrompt)
	}
	if err := s.SetPrompts("missing", sc.ID, "a", "b"); err == nil ||
		!strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown paragraph: err = %v", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusIdle:    false,
		StatusPending: false,
		StatusSuccess: true,
		StatusError:   true,
		StatusSkipped: true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSnapshotIsolatedFromUpdates(t *testing.T) {
	s := NewStore([]string{"text"}, 1, nil)
	p := s.Paragraphs()[0]
	sc := p.Scenes[0]

	snap := s.Snapshot()

	if err := s.ApplyUpdate(p.ID, sc.ID, Update{
		StartImageStatus: StatusPtr(StatusSuccess),
		StartImage:       &Asset{Data: []byte("img"), Mime: "image/png"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyUpdate(p.ID, "", Update{
		AudioStatus: StatusPtr(StatusPending),
	}); err != nil {
		t.Fatal(err)
	}

	// 快照与活动树完全解耦，并发读取快照期间树可以被改写
	got := snap[0]
	if got.AudioStatus != StatusIdle {
		t.Errorf("snapshot audio = %s, want idle", got.AudioStatus)
	}
	if got.Scenes[0].StartImageStatus != StatusIdle || got.Scenes[0].StartImage != nil {
		t.Errorf("snapshot scene mutated: %+v", got.Scenes[0])
	}
	if snap[0] == p || snap[0].Scenes[0] == sc {
		t.Error("snapshot shares node pointers with the live tree")
	}

	// 反向同理：改快照不影响活动树
	snap[0].Scenes[0].VideoStatus = StatusError
	if sc.VideoStatus != StatusIdle {
		t.Errorf("live video = %s after snapshot edit, want idle", sc.VideoStatus)
	}
}
