package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/candorvoice/candor/internal/audio"
	"github.com/candorvoice/candor/internal/config"
	"github.com/candorvoice/candor/internal/dialogue"
	"github.com/candorvoice/candor/internal/httpapi"
	"github.com/candorvoice/candor/internal/observability"
	"github.com/candorvoice/candor/internal/session"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/internal/transport"
	"github.com/candorvoice/candor/internal/voice"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(0)

	ctx := context.Background()
	analyzer := buildAnalyzer(ctx, cfg, logger)

	var store transcript.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := transcript.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("transcript store init failed: %v", err)
		}
		store = pg
		logger.Info("transcript store: postgres")
	} else {
		store = transcript.NewMemoryStore()
		logger.Info("transcript store: in-memory (DATABASE_URL not set)")
	}
	defer store.Close()

	devices := audio.NewMalgoOtoProvider()
	defer devices.Close()

	orchestrator := voice.New(voice.Deps{
		Transport: transport.Config{
			URL:                 cfg.VoiceWSURL,
			AppID:               cfg.VoiceAppID,
			AccessKey:           cfg.VoiceAccessKey,
			ResourceID:          cfg.VoiceResourceID,
			AppKey:              cfg.VoiceAppKey,
			MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
			RecoveryBackoffBase: cfg.RecoveryBackoffBase,
		},
		Session: transport.SessionConfig{
			TTS: transport.TTSConfig{
				AudioConfig: transport.AudioConfig{
					Channel:    1,
					Format:     "pcm",
					SampleRate: cfg.PlaybackSampleRate,
				},
			},
			Dialog: transport.DialogConfig{BotName: cfg.BotName},
		},
		Audio: audio.ManagerConfig{
			Capture: audio.StreamConfig{
				Format: "pcm", BitDepth: 16, Channels: 1,
				SampleRate: cfg.CaptureSampleRate, ChunkSamples: cfg.AudioChunkSamples,
			},
			Playback: audio.StreamConfig{
				Format: "pcm", BitDepth: 16, Channels: 1,
				SampleRate: cfg.PlaybackSampleRate, ChunkSamples: cfg.AudioChunkSamples,
			},
			PlaybackQueueDepth: cfg.PlaybackQueueDepth,
			HandoffTimeout:     cfg.SendHandoffTimeout,
		},
		Dialer:          transport.NewWebsocketDialer(),
		Devices:         devices,
		Analyzer:        analyzer,
		Store:           store,
		Metrics:         metrics,
		Latency:         latency,
		Logger:          logger,
		MaxFollowUps:    cfg.MaxFollowUps,
		PlaybackWAVPath: cfg.PlaybackWAVPath,
	})

	interviews := session.NewManager()
	api := httpapi.New(interviews, orchestrator, store, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if _, err := orchestrator.Stop(shutdownCtx); err != nil {
		logger.Warn("interview teardown failed", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

func buildAnalyzer(ctx context.Context, cfg config.Config, logger *zap.Logger) dialogue.Analyzer {
	tryGemini := func(fatal bool) dialogue.Analyzer {
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			if fatal {
				log.Fatalf("ANALYZER_PROVIDER=gemini but GEMINI_API_KEY is not set")
			}
			return nil
		}
		a, err := dialogue.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			if fatal {
				log.Fatalf("gemini analyzer init failed: %v", err)
			}
			logger.Warn("gemini analyzer unavailable", zap.Error(err))
			return nil
		}
		logger.Info("analyzer: gemini", zap.String("model", cfg.GeminiModel))
		return a
	}

	switch strings.ToLower(strings.TrimSpace(cfg.AnalyzerProvider)) {
	case "gemini":
		return tryGemini(true)
	case "mock":
		logger.Info("analyzer: mock")
		return dialogue.MockAnalyzer{}
	default: // auto
		if a := tryGemini(false); a != nil {
			return a
		}
		logger.Info("analyzer: mock (no gemini key)")
		return dialogue.MockAnalyzer{}
	}
}
