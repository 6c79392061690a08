package story

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Update 合并到目标节点的部分字段，nil字段保持原值。
// SceneID为空时目标是段落本身（音频字段），否则是段落下的场景。
type Update struct {
	AudioStatus   *Status
	Audio         *Asset
	AudioErrorMsg *string

	StartImageStatus *Status
	StartImage       *Asset
	EndImageStatus   *Status
	EndImage         *Asset
	VideoStatus      *Status
	Video            *Asset
	ErrorMsg         *string
}

// Store holds the paragraph/scene tree for one wizard session. It is a
// pure data holder: all scheduling decisions belong to the orchestrator,
// the store only offers identity-targeted merges and copy-safe reads.
type Store struct {
	mu         sync.RWMutex
	paragraphs []*Paragraph
}

// NewStore builds the tree from already-segmented paragraph texts. Each
// paragraph receives exactly sceneCount scenes; the count is fixed for
// the lifetime of the tree. A paragraph whose text matches one in prev
// keeps its id and narration audio, so stepping back through the wizard
// does not throw away a finished narration.
func NewStore(texts []string, sceneCount int, prev *Store) *Store {
	var old []*Paragraph
	if prev != nil {
		old = prev.Paragraphs()
	}
	findPrev := func(text string) *Paragraph {
		for _, p := range old {
			if p.Text == text {
				return p
			}
		}
		return nil
	}

	paragraphs := make([]*Paragraph, 0, len(texts))
	for _, text := range texts {
		p := &Paragraph{
			ID:          uuid.NewString(),
			Text:        text,
			AudioStatus: StatusIdle,
		}
		if existing := findPrev(text); existing != nil {
			p.ID = existing.ID
			p.AudioStatus = existing.AudioStatus
			p.Audio = existing.Audio
		}
		for i := 0; i < sceneCount; i++ {
			p.Scenes = append(p.Scenes, &Scene{
				ID:               uuid.NewString(),
				StartImageStatus: StatusIdle,
				EndImageStatus:   StatusIdle,
				VideoStatus:      StatusIdle,
			})
		}
		paragraphs = append(paragraphs, p)
	}
	return &Store{paragraphs: paragraphs}
}

// Paragraphs returns the paragraphs in story order. The slice is a
// copy; the nodes are shared, so callers must go through ApplyUpdate
// for writes.
func (s *Store) Paragraphs() []*Paragraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Paragraph, len(s.paragraphs))
	copy(out, s.paragraphs)
	return out
}

// Snapshot returns a deep copy of the tree taken under the lock, for
// readers that run alongside a generation pass (state polling, export).
// Asset pointers are shared: an asset is immutable once attached, only
// the node fields around it are ever rewritten.
func (s *Store) Snapshot() []*Paragraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Paragraph, 0, len(s.paragraphs))
	for _, p := range s.paragraphs {
		pc := *p
		pc.Scenes = make([]*Scene, 0, len(p.Scenes))
		for _, sc := range p.Scenes {
			scc := *sc
			pc.Scenes = append(pc.Scenes, &scc)
		}
		out = append(out, &pc)
	}
	return out
}

// Paragraph returns the paragraph with the given id, or nil.
func (s *Store) Paragraph(id string) *Paragraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.paragraphs {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ApplyUpdate merges the non-nil fields of u into the node addressed by
// (paragraphID, sceneID). All other nodes are left untouched.
func (s *Store) ApplyUpdate(paragraphID, sceneID string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Paragraph
	for _, p := range s.paragraphs {
		if p.ID == paragraphID {
			target = p
			break
		}
	}
	if target == nil {
		return fmt.Errorf("paragraph %s not found", paragraphID)
	}

	if sceneID == "" {
		if u.AudioStatus != nil {
			target.AudioStatus = *u.AudioStatus
		}
		if u.Audio != nil {
			target.Audio = u.Audio
		}
		if u.AudioErrorMsg != nil {
			target.AudioErrorMsg = *u.AudioErrorMsg
		}
		return nil
	}

	scene := target.Scene(sceneID)
	if scene == nil {
		return fmt.Errorf("scene %s not found in paragraph %s", sceneID, paragraphID)
	}
	if u.StartImageStatus != nil {
		scene.StartImageStatus = *u.StartImageStatus
	}
	if u.StartImage != nil {
		scene.StartImage = u.StartImage
	}
	if u.EndImageStatus != nil {
		scene.EndImageStatus = *u.EndImageStatus
	}
	if u.EndImage != nil {
		scene.EndImage = u.EndImage
	}
	if u.VideoStatus != nil {
		scene.VideoStatus = *u.VideoStatus
	}
	if u.Video != nil {
		scene.Video = u.Video
	}
	if u.ErrorMsg != nil {
		scene.ErrorMsg = *u.ErrorMsg
	}
	return nil
}

// ResetImage puts one frame image back to idle for regeneration and
// resets the dependent video with it. Payloads are cleared along with
// the statuses: an asset may only be attached to a successful node.
func (s *Store) ResetImage(paragraphID, sceneID string, kind ImageKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paragraphs {
		if p.ID != paragraphID {
			continue
		}
		scene := p.Scene(sceneID)
		if scene == nil {
			break
		}
		if kind == ImageStart {
			scene.StartImageStatus = StatusIdle
			scene.StartImage = nil
		} else {
			scene.EndImageStatus = StatusIdle
			scene.EndImage = nil
		}
		scene.VideoStatus = StatusIdle
		scene.Video = nil
		scene.ErrorMsg = ""
		return nil
	}
	return fmt.Errorf("scene %s/%s not found", paragraphID, sceneID)
}

// SetPrompts writes the start/end prompt pair of one scene.
func (s *Store) SetPrompts(paragraphID, sceneID, start, end string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paragraphs {
		if p.ID != paragraphID {
			continue
		}
		if scene := p.Scene(sceneID); scene != nil {
			scene.StartPrompt = start
			scene.EndPrompt = end
			return nil
		}
	}
	return fmt.Errorf("scene %s/%s not found", paragraphID, sceneID)
}

// StatusPtr is a convenience for building partial updates.
func StatusPtr(s Status) *Status { return &s }

// StringPtr is a convenience for building partial updates.
func StringPtr(s string) *string { return &s }
