package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"storytomedia/internal/config"
	"storytomedia/internal/provider"
	"storytomedia/internal/provider/elevenlabs"
	"storytomedia/internal/provider/gemini"
	"storytomedia/internal/provider/hailuo"
	"storytomedia/internal/provider/kling"
	"storytomedia/internal/provider/leonardo"
	"storytomedia/internal/provider/openai"
	"storytomedia/internal/wizard"
)

func main() {
	// 初始化日志
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)

	// 加载.env（不存在时忽略）
	_ = godotenv.Load()

	// 加载服务配置
	cfgPath := os.Getenv("STORYTOMEDIA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 注册各厂商适配器
	registry := buildRegistry(cfg)

	// 初始化向导服务
	svc := wizard.NewService(registry, config.NewFileKeyStore(cfg.DataDir))

	// 初始化Gin路由
	router := gin.Default()
	registerRoutes(router, svc)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	// 在goroutine中启动服务器
	go func() {
		log.Printf("服务器启动在 %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	// 优雅关闭服务器
	if err := srv.Close(); err != nil {
		log.Fatalf("服务器关闭失败: %v", err)
	}

	log.Println("服务器已关闭")
}

// localSegmenter 纯本地的空行切分，不依赖任何厂商
type localSegmenter struct{}

func (localSegmenter) SegmentText(_ context.Context, text string) ([]string, error) {
	return provider.SplitBlankLines(text), nil
}

// buildRegistry 把全部引擎注册进能力注册表，凭证在Resolve时注入
func buildRegistry(cfg config.Server) *provider.Registry {
	r := provider.NewRegistry()

	r.RegisterSegmenter(config.SegmentSimple, func(config.Keys) provider.Segmenter {
		return localSegmenter{}
	})
	r.RegisterSegmenter(config.SegmentGemini, func(k config.Keys) provider.Segmenter {
		return gemini.NewSegmenter(gemini.NewClient(k.Google))
	})
	r.RegisterSegmenter(config.SegmentGPT4, func(k config.Keys) provider.Segmenter {
		return openai.NewSegmenter(k.OpenAI)
	})

	r.RegisterPrompter(func(k config.Keys) provider.Prompter {
		return gemini.NewPrompter(gemini.NewClient(k.Google))
	})

	// 图片引擎
	registerGeminiImage := func(tag config.ImageEngine) {
		r.RegisterImage(tag, func(k config.Keys) provider.ImageGenerator {
			return gemini.NewImageGenerator(gemini.NewClient(k.Google), string(tag))
		})
	}
	registerGeminiImage(config.ImageGeminiFlash)
	registerGeminiImage(config.ImageImagen3)
	registerGeminiImage(config.ImageImagen4)
	r.RegisterImage(config.ImageLeonardo, func(k config.Keys) provider.ImageGenerator {
		g := leonardo.NewGenerator(k.Leonardo)
		g.PollInterval = cfg.PollInterval
		g.PollAttempts = cfg.PollAttempts
		return g
	})

	// 音频引擎
	r.RegisterAudio(config.AudioGeminiTTS, func(k config.Keys) provider.AudioGenerator {
		return gemini.NewAudioGenerator(gemini.NewClient(k.Google))
	})
	r.RegisterAudio(config.AudioElevenLabs, func(k config.Keys) provider.AudioGenerator {
		return elevenlabs.NewGenerator(k.ElevenLabs)
	})

	// 视频引擎
	r.RegisterVideo(config.VideoVeo, func(k config.Keys) provider.VideoGenerator {
		g := gemini.NewVideoGenerator(gemini.NewClient(k.Google))
		g.PollAttempts = cfg.PollAttempts
		return g
	})
	r.RegisterVideo(config.VideoKling, func(k config.Keys) provider.VideoGenerator {
		g := kling.NewVideoGenerator(k.Kling)
		g.PollAttempts = cfg.PollAttempts
		return g
	})
	r.RegisterVideo(config.VideoHailuo, func(k config.Keys) provider.VideoGenerator {
		g := hailuo.NewVideoGenerator(k.Hailuo)
		g.PollAttempts = cfg.PollAttempts
		return g
	})
	r.RegisterVideo(config.VideoSora, func(k config.Keys) provider.VideoGenerator {
		g := openai.NewVideoGenerator(k.Sora)
		g.PollAttempts = cfg.PollAttempts
		return g
	})

	// 密钥校验
	r.RegisterValidator("google", gemini.Validator{})
	r.RegisterValidator("openai", openai.NewValidator())
	r.RegisterValidator("leonardo", leonardo.NewValidator())
	r.RegisterValidator("elevenlabs", elevenlabs.NewValidator())
	r.RegisterValidator("kling", kling.NewValidator())
	r.RegisterValidator("hailuo", hailuo.NewValidator())
	r.RegisterValidator("sora", openai.NewValidator())

	return r
}
