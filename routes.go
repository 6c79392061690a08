package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"storytomedia/internal/config"
	"storytomedia/internal/export"
	"storytomedia/internal/orchestrator"
	"storytomedia/internal/story"
	"storytomedia/internal/wizard"
)

// registerRoutes 挂载向导的全部路由
func registerRoutes(router *gin.Engine, svc *wizard.Service) {
	router.POST("/sessions", handleNewSession(svc))
	router.GET("/sessions/:id", handleSessionState(svc))

	router.POST("/sessions/:id/segment", handleSegment(svc))
	router.PUT("/sessions/:id/paragraphs", handleUpdateParagraphs(svc))
	router.PUT("/sessions/:id/settings", handleUpdateSettings(svc))
	router.POST("/sessions/:id/commit", handleCommit(svc))
	router.POST("/sessions/:id/prompts", handleGeneratePrompts(svc))
	router.PUT("/sessions/:id/prompts", handleSetPrompt(svc))
	router.POST("/sessions/:id/prompts/rewrite", handleRewritePrompt(svc))
	router.POST("/sessions/:id/generate", handleGenerate(svc))
	router.POST("/sessions/:id/regenerate", handleRegenerate(svc))
	router.GET("/sessions/:id/export", handleExport(svc))

	router.POST("/keys/validate", handleValidateKey(svc))
	router.PUT("/keys", handleSaveKeys(svc))
}

func sessionFrom(c *gin.Context, svc *wizard.Service) (*wizard.Session, bool) {
	s, err := svc.Session(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return nil, false
	}
	return s, true
}

func handleNewSession(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := svc.NewSession()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("创建会话失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": s.ID,
			"step":       s.Step(),
			"settings":   s.Settings(),
		})
	}
}

func handleSessionState(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		// 快照读取：生成goroutine可能正在改写节点
		c.JSON(http.StatusOK, gin.H{
			"session_id": s.ID,
			"step":       s.Step(),
			"settings":   s.Settings(),
			"paragraphs": s.Paragraphs(),
			"progress":   s.Progress(),
		})
	}
}

func handleSegment(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		parts, err := svc.Segment(c.Request.Context(), s, req.Text)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("切分故事失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"paragraphs": parts})
	}
}

func handleUpdateParagraphs(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		var req struct {
			Paragraphs []string `json:"paragraphs"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Paragraphs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		svc.UpdateParagraphs(s, req.Paragraphs)
		c.JSON(http.StatusOK, gin.H{"paragraphs": req.Paragraphs})
	}
}

func handleUpdateSettings(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		var set config.Settings
		if err := c.ShouldBindJSON(&set); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		if err := svc.UpdateSettings(s, set); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": s.Settings()})
	}
}

func handleCommit(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		if err := svc.CommitSettings(s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"step": s.Step(), "paragraphs": s.Paragraphs()})
	}
}

func handleGeneratePrompts(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		if err := svc.GeneratePrompts(c.Request.Context(), s); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("生成提示词失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"paragraphs": s.Paragraphs()})
	}
}

type promptTarget struct {
	ParagraphID string `json:"paragraph_id"`
	SceneID     string `json:"scene_id"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
}

func imageKind(raw string) (story.ImageKind, bool) {
	switch raw {
	case string(story.ImageStart):
		return story.ImageStart, true
	case string(story.ImageEnd):
		return story.ImageEnd, true
	}
	return "", false
}

func handleSetPrompt(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		var req promptTarget
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		kind, ok := imageKind(req.Kind)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind必须是start或end"})
			return
		}
		if err := svc.SetPrompt(s, req.ParagraphID, req.SceneID, kind, req.Text); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleRewritePrompt(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		var req promptTarget
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		kind, ok := imageKind(req.Kind)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind必须是start或end"})
			return
		}
		prompt, err := svc.RewritePrompt(c.Request.Context(), s, req.ParagraphID, req.SceneID, kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"prompt": prompt})
	}
}

func handleGenerate(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		if err := svc.StartGeneration(s); err != nil {
			if errors.Is(err, orchestrator.ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "当前已有生成任务在执行"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"step": s.Step()})
	}
}

func handleRegenerate(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		var req promptTarget
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		kind, ok := imageKind(req.Kind)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind必须是start或end"})
			return
		}
		if err := svc.RegenerateImage(s, req.ParagraphID, req.SceneID, kind); err != nil {
			if errors.Is(err, orchestrator.ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "当前已有生成任务在执行"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	}
}

func handleExport(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := sessionFrom(c, svc)
		if !ok {
			return
		}
		// 先在内存中完成打包，写响应之前就能报告失败，
		// 避免给截断的zip追加JSON错误体
		var buf bytes.Buffer
		if err := svc.Export(s, &buf); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("导出失败: %v", err)})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
		c.Data(http.StatusOK, "application/zip", buf.Bytes())
	}
}

func handleValidateKey(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Vendor string `json:"vendor"`
			Key    string `json:"key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		valid := svc.ValidateKey(c.Request.Context(), req.Vendor, req.Key)
		c.JSON(http.StatusOK, gin.H{"valid": valid})
	}
}

func handleSaveKeys(svc *wizard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var keys config.Keys
		if err := c.ShouldBindJSON(&keys); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		if err := svc.SaveKeys(keys); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("保存密钥失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
