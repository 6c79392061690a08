package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 引擎标识，与前端设置面板的取值一一对应
type (
	ImageEngine        string
	AudioEngine        string
	VideoEngine        string
	SegmentationMethod string
)

const (
	ImageGeminiFlash ImageEngine = "gemini-2.5-flash-image"
	ImageImagen3     ImageEngine = "imagen-3.0-generate-001"
	ImageImagen4     ImageEngine = "imagen-4.0-generate-001"
	ImageLeonardo    ImageEngine = "leonardo-ai"

	AudioGeminiTTS  AudioEngine = "gemini-tts"
	AudioElevenLabs AudioEngine = "elevenlabs"

	VideoVeo    VideoEngine = "veo"
	VideoKling  VideoEngine = "kling"
	VideoHailuo VideoEngine = "hailuo"
	VideoSora   VideoEngine = "sora"

	SegmentSimple SegmentationMethod = "simple"
	SegmentGemini SegmentationMethod = "gemini"
	SegmentGPT4   SegmentationMethod = "gpt4"
)

// Keys 各第三方服务的凭证，对编排器只读
type Keys struct {
	Google     string `json:"google,omitempty"`
	OpenAI     string `json:"openai,omitempty"`
	Leonardo   string `json:"leonardo,omitempty"`
	ElevenLabs string `json:"elevenlabs,omitempty"`
	Kling      string `json:"kling,omitempty"`
	Hailuo     string `json:"hailuo,omitempty"`
	Sora       string `json:"sora,omitempty"`
}

// Settings 一次生成运行的全部配置。提交给编排器后视为不可变，
// 中途修改设置需要重新提交场景数（见NewStore）。
type Settings struct {
	SceneCount  int    `json:"scene_count"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style"`

	ImageEngine  ImageEngine        `json:"image_engine"`
	AudioEngine  AudioEngine        `json:"audio_engine"`
	VideoEngine  VideoEngine        `json:"video_engine"`
	Segmentation SegmentationMethod `json:"segmentation"`

	GenerateAudio bool   `json:"generate_audio"`
	GenerateVideo bool   `json:"generate_video"`
	AudioVoice    string `json:"audio_voice"`

	Keys Keys `json:"keys"`
}

// DefaultSettings 产品默认值：每段3个场景、16:9、电影感风格、
// 音视频全开、Gemini全家桶
func DefaultSettings() Settings {
	return Settings{
		SceneCount:    3,
		AspectRatio:   "16:9",
		Style:         "Cinematic",
		ImageEngine:   ImageGeminiFlash,
		AudioEngine:   AudioGeminiTTS,
		VideoEngine:   VideoVeo,
		Segmentation:  SegmentGemini,
		GenerateAudio: true,
		GenerateVideo: true,
		AudioVoice:    "Fenrir",
	}
}

// 设置面板的枚举取值
var (
	AspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}
	Styles       = []string{
		"Cinematic", "Realistic", "Anime", "3D Render", "Pixar",
		"Illustration", "Oil Painting", "Watercolor", "Cyberpunk",
		"Sketch", "Fantasy", "Drawing", "Line Art", "Vintage",
	}
	Voices = []string{"Fenrir", "Kore", "Puck", "Charon", "Zephyr"}
)

// Validate 校验一次运行的设置是否可用
func (s Settings) Validate() error {
	if s.SceneCount <= 0 {
		return fmt.Errorf("scene count must be positive, got %d", s.SceneCount)
	}
	if !contains(AspectRatios, s.AspectRatio) {
		return fmt.Errorf("unknown aspect ratio %q", s.AspectRatio)
	}
	if !contains(Styles, s.Style) {
		return fmt.Errorf("unknown style %q", s.Style)
	}
	if s.GenerateAudio && s.AudioVoice == "" {
		return fmt.Errorf("audio voice required when audio is enabled")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Server 服务进程自身的配置，从yaml文件加载
type Server struct {
	Addr         string
	DataDir      string
	PollInterval time.Duration
	PollAttempts int
}

// yaml.v3不认识time.Duration，轮询间隔以字符串形式读入再解析
type serverYAML struct {
	Addr         string `yaml:"addr"`
	DataDir      string `yaml:"data_dir"`
	PollInterval string `yaml:"poll_interval"`
	PollAttempts int    `yaml:"poll_attempts"`
}

// DefaultServer 服务默认配置：2秒轮询间隔、60次上限
func DefaultServer() Server {
	return Server{
		Addr:         ":8080",
		DataDir:      "data",
		PollInterval: 2 * time.Second,
		PollAttempts: 60,
	}
}

// LoadServer 读取yaml配置文件，文件不存在时返回默认配置
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read server config: %w", err)
	}
	var raw serverYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse server config: %w", err)
	}
	if raw.Addr != "" {
		cfg.Addr = raw.Addr
	}
	if raw.DataDir != "" {
		cfg.DataDir = raw.DataDir
	}
	if raw.PollInterval != "" {
		interval, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return cfg, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = interval
	}
	if raw.PollAttempts > 0 {
		cfg.PollAttempts = raw.PollAttempts
	}
	return cfg, nil
}
