package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"stagechat/internal/illustrator"
	"stagechat/internal/orchestrator"
	"stagechat/internal/session"
	"stagechat/internal/stage"
)

func (s *Server) handleIndex(c *gin.Context) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ui page missing"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePromptFiles(c *gin.Context) {
	files, err := s.library.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if files == nil {
		files = []stage.PromptFile{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.sessions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// 可按角色过滤；没选过角色的老会话始终保留在列表里。
	if pf := c.Query("prompt_file"); pf != "" {
		filtered := sessions[:0]
		for _, sum := range sessions {
			if sum.PromptFile == pf || sum.PromptFile == "" {
				filtered = append(filtered, sum)
			}
		}
		sessions = filtered
	}
	current, _ := s.sessions.Current(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "current_session_id": current})
}

func (s *Server) handleCurrentSession(c *gin.Context) {
	id := s.resolveSession(c.Request.Context(), "")
	if id == "" {
		c.JSON(http.StatusOK, gin.H{"session_id": nil})
		return
	}
	state, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"session_id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    state.SessionID,
		"name":          state.Name,
		"prompt_file":   state.PromptFile,
		"model":         state.Model,
		"display_image": state.DisplayImage,
	})
}

func (s *Server) handleCurrentSessionPrompt(c *gin.Context) {
	id := s.resolveSession(c.Request.Context(), "")
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no current session"})
		return
	}
	state, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	doc, err := s.library.Load(state.PromptFile)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "persona file unavailable"})
		return
	}
	// 返回当前生效阶段的人设档（缺档回退阶段1）。
	stageNum := state.Evaluation.EffectiveStage
	c.JSON(http.StatusOK, gin.H{
		"prompt_file": state.PromptFile,
		"stage":       stageNum,
		"content":     doc.Tier(stageNum),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	id := s.resolveSession(c.Request.Context(), c.Query("session_id"))
	if id == "" {
		c.JSON(http.StatusOK, gin.H{"session_id": nil, "turns": []any{}})
		return
	}
	turns, err := s.transcripts.List(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "turns": turns})
}

func (s *Server) handleEvaluationState(c *gin.Context) {
	id := s.resolveSession(c.Request.Context(), c.Query("session_id"))
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	snap, err := s.orch.Snapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCharacterImage(c *gin.Context) {
	path, mime, ok := s.library.CharacterImage(c.Param("basename"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "character image not found"})
		return
	}
	c.Header("Content-Type", mime)
	c.File(path)
}

// handleDisplayImage 下发会话当前展示图：display_image 为 generated
// 且生成图存在时发生成图，否则回退到角色立绘。
func (s *Server) handleDisplayImage(c *gin.Context) {
	id := s.resolveSession(c.Request.Context(), c.Query("session_id"))
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	state, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if state.DisplayImage == "generated" {
		p := illustrator.DisplayImagePath(s.opts.LogDir, id)
		if _, err := os.Stat(p); err == nil {
			c.Header("Content-Type", "image/png")
			c.File(p)
			return
		}
	}
	if state.PromptFile != "" {
		if path, mime, ok := s.library.CharacterImage(stage.CharacterName(state.PromptFile)); ok {
			c.Header("Content-Type", mime)
			c.File(path)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no display image"})
}

type newSessionRequest struct {
	PromptFile string `json:"prompt_file"`
}

func (s *Server) handleNewSession(c *gin.Context) {
	var req newSessionRequest
	// 允许空 body：用默认人设开新会话。
	_ = c.ShouldBindJSON(&req)

	state, err := s.orch.NewSession(c.Request.Context(), req.PromptFile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    state.SessionID,
		"prompt_file":   state.PromptFile,
		"display_image": state.DisplayImage,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	// NSFWAllowed 缺省按 true 处理：只有显式 false（或评估侧的
	// 维度覆盖）才强制 SFW。
	NSFWAllowed *bool  `json:"nsfw_allowed"`
	APIKey      string `json:"api_key"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	key := s.apiKey(c, req.APIKey)
	if key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_api_key"})
		return
	}
	id := s.resolveSession(c.Request.Context(), req.SessionID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no session; create one via /new"})
		return
	}

	nsfwAllowed := true
	if req.NSFWAllowed != nil {
		nsfwAllowed = *req.NSFWAllowed
	}
	reply, err := s.orch.ProcessMessage(c.Request.Context(), s.clientFactory(key), id, req.Message, nsfwAllowed)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		s.log.Error("chat failed", "session_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "chat model call failed"})
		return
	}
	c.JSON(http.StatusOK, reply)
}

type evaluateRequest struct {
	SessionID string `json:"session_id"`
	APIKey    string `json:"api_key"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	_ = c.ShouldBindJSON(&req)

	key := s.apiKey(c, req.APIKey)
	if key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_api_key"})
		return
	}
	id := s.resolveSession(c.Request.Context(), req.SessionID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no session"})
		return
	}

	snap, err := s.orch.Evaluate(c.Request.Context(), s.clientFactory(key), id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, orchestrator.ErrEvaluationUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evaluation unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, snap)
}

type switchSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSwitchSession(c *gin.Context) {
	var req switchSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	state, err := s.sessions.Get(c.Request.Context(), req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.sessions.SetCurrent(c.Request.Context(), req.SessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// 续接标记只做审计，List 时会被跳过。
	if err := s.transcripts.AppendSystem(c.Request.Context(), req.SessionID, "", state.Model, true); err != nil {
		s.log.Warn("append resume marker failed", "session_id", req.SessionID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID})
}

type nameSessionRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

func (s *Server) handleNameSession(c *gin.Context) {
	var req nameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and name are required"})
		return
	}
	id := s.resolveSession(c.Request.Context(), req.SessionID)
	state, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	state.Name = req.Name
	state.UpdatedAt = time.Now()
	if err := s.sessions.Save(c.Request.Context(), state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": state.SessionID, "name": state.Name})
}

type ttsRequest struct {
	Text   string `json:"text"`
	APIKey string `json:"api_key"`
}

func (s *Server) handleTTS(c *gin.Context) {
	var req ttsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	key := s.apiKey(c, req.APIKey)
	if key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_api_key"})
		return
	}
	wav, err := s.voice.Synthesize(c.Request.Context(), key, req.Text)
	if err != nil {
		s.log.Error("tts failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "speech synthesis failed"})
		return
	}
	c.Data(http.StatusOK, "audio/wav", wav)
}

type logErrorRequest struct {
	Message string `json:"message"`
}

// handleLogError 收集前端上报的错误，按行追加到部署者指定的文件。
func (s *Server) handleLogError(c *gin.Context) {
	var req logErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), req.Message)
	f, err := os.OpenFile(s.opts.ErrorLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		_, _ = f.WriteString(line)
		_ = f.Close()
	}
	s.log.Warn("client error reported", "message", req.Message)
	c.JSON(http.StatusOK, gin.H{"status": "logged"})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.sessions.Get(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.sessions.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.transcripts.Delete(c.Request.Context(), id); err != nil {
		s.log.Warn("delete transcript failed", "session_id", id, "error", err)
	}
	_ = os.Remove(illustrator.DisplayImagePath(s.opts.LogDir, id))

	if current, _ := s.sessions.Current(c.Request.Context()); current == id {
		_ = s.sessions.SetCurrent(c.Request.Context(), "")
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
