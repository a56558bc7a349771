// stagechat 是面向远端对话模型的网页聊天服务：
// 三档人设随关系评估值推进，带语音合成与氛围配图。
package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"stagechat/internal/api"
	"stagechat/internal/config"
	"stagechat/internal/evaluation"
	"stagechat/internal/illustrator"
	"stagechat/internal/llm"
	"stagechat/internal/logger"
	"stagechat/internal/orchestrator"
	"stagechat/internal/session"
	"stagechat/internal/stage"
	"stagechat/internal/transcript"
	"stagechat/internal/tts"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	addr := flag.String("addr", "", "listen address override (host:port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	defer log.Sync()

	var sessions session.Store
	switch cfg.Session.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		sessions = session.NewRedisStore(client, cfg.Session.Redis.Prefix)
		log.Info("session store: redis", "addr", cfg.Session.Redis.Addr)
	default:
		sessions = session.NewFileStore(cfg.Paths.LogDir)
		log.Info("session store: file", "dir", cfg.Paths.LogDir)
	}

	transcripts := transcript.NewFileStore(cfg.Paths.LogDir)
	library := stage.NewLibrary(cfg.Paths.PromptsDir, cfg.Paths.DefaultPrompt)
	evaluator := evaluation.New(cfg.Evaluation.MaxRetries)

	var illus orchestrator.Illustrator
	if cfg.Illustration.Enabled {
		illus = illustrator.New(sessions, transcripts, library, log,
			cfg.Paths.LogDir, cfg.Illustration.StylePrompt, cfg.Illustration.EveryNReplies)
	}

	orch := orchestrator.New(orchestrator.Config{
		EvalIntervalRounds: cfg.Evaluation.IntervalRounds,
		EvalWindowRounds:   cfg.Evaluation.WindowRounds,
		ModelName:          cfg.XAI.Model,
	}, sessions, transcripts, library, evaluator, illus, log)

	voice := tts.NewClient(tts.Options{
		URL:        cfg.TTS.URL,
		Voice:      cfg.TTS.Voice,
		SampleRate: cfg.TTS.SampleRate,
		Timeout:    cfg.TTS.Timeout,
	}, log)

	clientFactory := api.NewDefaultClientFactory(llm.Options{
		BaseURL:    cfg.XAI.BaseURL,
		Model:      cfg.XAI.Model,
		ImageModel: cfg.XAI.ImageModel,
		Timeout:    cfg.XAI.Timeout,
	})

	server := api.NewServer(api.Options{
		DefaultAPIKey: cfg.XAI.APIKey,
		LogDir:        cfg.Paths.LogDir,
		ErrorLogPath:  cfg.Paths.ErrorLog,
	}, orch, sessions, transcripts, library, voice, clientFactory, log)

	listen := *addr
	if listen == "" {
		listen = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	httpServer := &http.Server{
		Addr:         listen,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Info("stagechat listening", "addr", listen, "model", cfg.XAI.Model)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server exited", "error", err)
	}
}
