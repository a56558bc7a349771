package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置。
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	XAI          XAIConfig          `yaml:"xai"`
	Paths        PathsConfig        `yaml:"paths"`
	Session      SessionConfig      `yaml:"session"`
	Evaluation   EvaluationConfig   `yaml:"evaluation"`
	TTS          TTSConfig          `yaml:"tts"`
	Illustration IllustrationConfig `yaml:"illustration"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// XAIConfig 远端对话/评估模型的接入配置。
// APIKey 允许为空：此时访客必须在每个请求里自带 Key（X-Api-Key），
// 部署者不共享自己的 Key。
type XAIConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	ImageModel string        `yaml:"image_model"`
	Timeout    time.Duration `yaml:"timeout"`
}

type PathsConfig struct {
	// PromptsDir 存放角色人设文件（<角色名>.txt，三阶段分隔）与角色立绘。
	PromptsDir string `yaml:"prompts_dir"`
	// DefaultPrompt 是未选择角色时的兜底人设文件。
	DefaultPrompt string `yaml:"default_prompt"`
	// LogDir 存放每会话的转写 JSONL、状态 JSON 与生成图。
	LogDir string `yaml:"log_dir"`
	// ErrorLog 是客户端上报错误的落盘文件。
	ErrorLog string `yaml:"error_log"`
}

// SessionConfig 选择会话状态的持久化后端。
type SessionConfig struct {
	// Store 取 "file" 或 "redis"。
	Store string      `yaml:"store"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// EvaluationConfig 评估节奏参数。窗口/周期/重试数有固定默认值，
// 与评分规则一起构成状态机契约，一般不需要改。
type EvaluationConfig struct {
	WindowRounds   int `yaml:"window_rounds"`
	IntervalRounds int `yaml:"interval_rounds"`
	MaxRetries     int `yaml:"max_retries"`
}

type TTSConfig struct {
	URL        string        `yaml:"url"`
	Voice      string        `yaml:"voice"`
	SampleRate int           `yaml:"sample_rate"`
	Timeout    time.Duration `yaml:"timeout"`
}

type IllustrationConfig struct {
	Enabled bool `yaml:"enabled"`
	// EveryNReplies 每 N 条角色回复触发一次配图副任务。
	EveryNReplies int `yaml:"every_n_replies"`
	// StylePrompt 是生成图的统一风格依据；对话内容只微调场景与情绪。
	StylePrompt string `yaml:"style_prompt"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"` // "dev" | "prod"
}

// Load 从文件加载配置，并用环境变量覆盖敏感项。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 环境变量优先：API Key 不应该写进仓库里的 yaml。
	if key := os.Getenv("XAI_API_KEY"); key != "" {
		cfg.XAI.APIKey = key
	}
	if dir := os.Getenv("CHAT_LOG_DIR"); dir != "" {
		cfg.Paths.LogDir = dir
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5001
	}
	if c.XAI.BaseURL == "" {
		c.XAI.BaseURL = "https://api.x.ai"
	}
	if c.XAI.Model == "" {
		c.XAI.Model = "grok-4-1-fast-reasoning"
	}
	if c.XAI.ImageModel == "" {
		c.XAI.ImageModel = "grok-imagine-image"
	}
	if c.XAI.Timeout == 0 {
		c.XAI.Timeout = 120 * time.Second
	}
	if c.Paths.PromptsDir == "" {
		c.Paths.PromptsDir = "systemprompt"
	}
	if c.Paths.DefaultPrompt == "" {
		c.Paths.DefaultPrompt = "SystemPrompt.txt"
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = "chat_logs"
	}
	if c.Paths.ErrorLog == "" {
		c.Paths.ErrorLog = "error_messages.txt"
	}
	if c.Session.Store == "" {
		c.Session.Store = "file"
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "stagechat"
	}
	if c.Evaluation.WindowRounds == 0 {
		c.Evaluation.WindowRounds = 5
	}
	if c.Evaluation.IntervalRounds == 0 {
		c.Evaluation.IntervalRounds = 5
	}
	if c.Evaluation.MaxRetries == 0 {
		c.Evaluation.MaxRetries = 3
	}
	if c.TTS.URL == "" {
		c.TTS.URL = "wss://api.x.ai/v1/realtime"
	}
	if c.TTS.Voice == "" {
		c.TTS.Voice = "Ara"
	}
	if c.TTS.SampleRate == 0 {
		c.TTS.SampleRate = 24000
	}
	if c.TTS.Timeout == 0 {
		c.TTS.Timeout = 120 * time.Second
	}
	if c.Illustration.EveryNReplies == 0 {
		c.Illustration.EveryNReplies = 3
	}
	if c.Logging.Mode == "" {
		c.Logging.Mode = "dev"
	}
}

// Validate 验证配置。
func (c *Config) Validate() error {
	switch c.Session.Store {
	case "file", "redis":
	default:
		return fmt.Errorf("session.store must be file or redis, got %q", c.Session.Store)
	}
	if c.Session.Store == "redis" && c.Session.Redis.Addr == "" {
		return fmt.Errorf("session.redis.addr is required when session.store=redis")
	}
	return nil
}
