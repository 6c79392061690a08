package story

// Status 节点生成状态
type Status string

const (
	StatusIdle    Status = "idle"    // 尚未调度
	StatusPending Status = "pending" // 正在生成
	StatusSuccess Status = "success" // 生成成功，payload已附加
	StatusError   Status = "error"   // 生成失败，可手动重试
	StatusSkipped Status = "skipped" // 按设置跳过或依赖未满足
)

// Terminal reports whether no further automatic action is taken from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusSkipped
}

// Asset 一次成功的适配器调用产出的二进制产物。
// Asset一旦附加到节点即不可变，重新生成时整体替换引用。
type Asset struct {
	Data []byte `json:"-"`
	Mime string `json:"mime"`
}

// ImageKind identifies one of the two frame images a scene owns.
type ImageKind string

const (
	ImageStart ImageKind = "start"
	ImageEnd   ImageKind = "end"
)

// Scene 段落内的一个视觉镜头，由首帧、尾帧和可选的过渡视频组成
type Scene struct {
	ID          string `json:"id"`
	StartPrompt string `json:"start_prompt"`
	EndPrompt   string `json:"end_prompt"`

	StartImageStatus Status `json:"start_image_status"`
	EndImageStatus   Status `json:"end_image_status"`
	VideoStatus      Status `json:"video_status"`

	StartImage *Asset `json:"start_image,omitempty"`
	EndImage   *Asset `json:"end_image,omitempty"`
	Video      *Asset `json:"video,omitempty"`

	ErrorMsg string `json:"error_msg,omitempty"`
}

// Paragraph 故事的一个叙事单元，旁白音频按段落生成
type Paragraph struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Scenes []*Scene `json:"scenes"`

	AudioStatus   Status `json:"audio_status"`
	Audio         *Asset `json:"audio,omitempty"`
	AudioErrorMsg string `json:"audio_error_msg,omitempty"`
}

// Scene returns the scene with the given id, or nil.
func (p *Paragraph) Scene(id string) *Scene {
	for _, s := range p.Scenes {
		if s.ID == id {
			return s
		}
	}
	return nil
}
