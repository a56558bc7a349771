// Package api 暴露 HTTP 接口：聊天、显式评估、会话管理、语音合成、
// 立绘/生成图下发，以及一个内嵌的单页 UI。
package api

import (
	"context"
	"embed"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stagechat/internal/llm"
	"stagechat/internal/logger"
	"stagechat/internal/orchestrator"
	"stagechat/internal/session"
	"stagechat/internal/stage"
	"stagechat/internal/transcript"
	"stagechat/internal/tts"
)

//go:embed web/index.html
var webFS embed.FS

// ClientFactory 按请求持有的 API Key 创建模型客户端。
// 生产实现包一层 llm.NewClient；测试注入假客户端。
type ClientFactory func(apiKey string) orchestrator.ModelClient

// Options 是 Server 的装配参数。
type Options struct {
	// DefaultAPIKey 是部署者的兜底 Key，为空时访客必须自带。
	DefaultAPIKey string
	LogDir        string
	ErrorLogPath  string
}

// Server 持有全部 HTTP 依赖。会话状态一律走 session.Store，
// 自身不缓存任何会话数据，可水平并发。
type Server struct {
	opts          Options
	engine        *gin.Engine
	orch          *orchestrator.Orchestrator
	sessions      session.Store
	transcripts   transcript.Store
	library       *stage.Library
	voice         *tts.Client
	clientFactory ClientFactory
	log           *logger.Logger
}

func NewServer(opts Options, orch *orchestrator.Orchestrator, sessions session.Store,
	transcripts transcript.Store, library *stage.Library, voice *tts.Client,
	clientFactory ClientFactory, log *logger.Logger) *Server {
	s := &Server{
		opts:          opts,
		orch:          orch,
		sessions:      sessions,
		transcripts:   transcripts,
		library:       library,
		voice:         voice,
		clientFactory: clientFactory,
		log:           log,
	}
	s.engine = s.buildEngine()
	return s
}

// NewDefaultClientFactory 返回生产用的模型客户端工厂。
func NewDefaultClientFactory(llmOpts llm.Options) ClientFactory {
	return func(apiKey string) orchestrator.ModelClient {
		return llm.NewClient(apiKey, llmOpts)
	}
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/", s.handleIndex)
	r.GET("/healthz", s.handleHealth)
	r.GET("/prompt-files", s.handlePromptFiles)
	r.GET("/sessions", s.handleListSessions)
	r.GET("/current-session", s.handleCurrentSession)
	r.GET("/current-session-prompt", s.handleCurrentSessionPrompt)
	r.GET("/history", s.handleHistory)
	r.GET("/evaluation-state", s.handleEvaluationState)
	r.GET("/character-image/:basename", s.handleCharacterImage)
	r.GET("/session-display-image", s.handleDisplayImage)

	r.POST("/new", s.handleNewSession)
	r.POST("/chat", s.handleChat)
	r.POST("/evaluate", s.handleEvaluate)
	r.POST("/switch-session", s.handleSwitchSession)
	r.POST("/name-session", s.handleNameSession)
	r.POST("/tts", s.handleTTS)
	r.POST("/log-error", s.handleLogError)

	r.DELETE("/session/:id", s.handleDeleteSession)

	return r
}

// Handler 暴露底层 http.Handler，供 main 与 httptest 使用。
func (s *Server) Handler() http.Handler { return s.engine }

// apiKey 解析请求携带的 API Key，优先级：
// X-Api-Key 头 > Authorization Bearer > 请求体 api_key 字段 > 部署者兜底。
func (s *Server) apiKey(c *gin.Context, bodyKey string) string {
	if key := strings.TrimSpace(c.GetHeader("X-Api-Key")); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); key != "" {
			return key
		}
	}
	if bodyKey != "" {
		return bodyKey
	}
	return s.opts.DefaultAPIKey
}

// resolveSession 把请求里的 session_id 解析成实际会话：
// 为空时用“当前会话”。找不到任何会话返回空串。
func (s *Server) resolveSession(ctx context.Context, requested string) string {
	if requested != "" {
		return requested
	}
	current, err := s.sessions.Current(ctx)
	if err != nil {
		return ""
	}
	return current
}
