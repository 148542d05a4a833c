package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	VoiceWSURL      string
	VoiceAppID      string
	VoiceAccessKey  string
	VoiceResourceID string
	VoiceAppKey     string

	BotName             string
	MaxFollowUps        int
	MaxRecoveryAttempts int
	RecoveryBackoffBase time.Duration

	CaptureSampleRate  int
	PlaybackSampleRate int
	AudioChunkSamples  int
	PlaybackQueueDepth int
	SendHandoffTimeout time.Duration
	PlaybackWAVPath    string

	// AnalyzerProvider selects the interview brain: auto, gemini or mock.
	AnalyzerProvider string
	GeminiAPIKey     string
	GeminiModel      string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "candor"),
		ShutdownTimeout:  15 * time.Second,

		VoiceWSURL:     envOrDefault("VOICE_WS_URL", "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"),
		VoiceAppID:     stringsTrimSpace("VOICE_APP_ID"),
		VoiceAccessKey: stringsTrimSpace("VOICE_ACCESS_KEY"),
		// Resource and app key identify the realtime dialogue product tier.
		VoiceResourceID: envOrDefault("VOICE_RESOURCE_ID", "volc.speech.dialog"),
		VoiceAppKey:     envOrDefault("VOICE_APP_KEY", "PlgvMymc7f3tQnJ6"),

		BotName:             envOrDefault("INTERVIEW_BOT_NAME", "candor"),
		MaxFollowUps:        2,
		MaxRecoveryAttempts: 3,
		RecoveryBackoffBase: 500 * time.Millisecond,

		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		AudioChunkSamples:  3200,
		PlaybackQueueDepth: 64,
		SendHandoffTimeout: 200 * time.Millisecond,
		PlaybackWAVPath:    stringsTrimSpace("AUDIO_PLAYBACK_WAV_PATH"),

		AnalyzerProvider: envOrDefault("ANALYZER_PROVIDER", "auto"),
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:      envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RecoveryBackoffBase, err = durationFromEnv("VOICE_RECOVERY_BACKOFF_BASE", cfg.RecoveryBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.SendHandoffTimeout, err = durationFromEnv("AUDIO_SEND_HANDOFF_TIMEOUT", cfg.SendHandoffTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFollowUps, err = intFromEnv("INTERVIEW_MAX_FOLLOW_UPS", cfg.MaxFollowUps)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRecoveryAttempts, err = intFromEnv("VOICE_MAX_RECOVERY_ATTEMPTS", cfg.MaxRecoveryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("AUDIO_CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackSampleRate, err = intFromEnv("AUDIO_PLAYBACK_SAMPLE_RATE", cfg.PlaybackSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioChunkSamples, err = intFromEnv("AUDIO_CHUNK_SAMPLES", cfg.AudioChunkSamples)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackQueueDepth, err = intFromEnv("AUDIO_PLAYBACK_QUEUE_DEPTH", cfg.PlaybackQueueDepth)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxFollowUps <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_MAX_FOLLOW_UPS must be positive")
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		return Config{}, fmt.Errorf("VOICE_MAX_RECOVERY_ATTEMPTS must be positive")
	}
	if cfg.CaptureSampleRate <= 0 || cfg.PlaybackSampleRate <= 0 {
		return Config{}, fmt.Errorf("audio sample rates must be positive")
	}
	if cfg.AudioChunkSamples <= 0 {
		return Config{}, fmt.Errorf("AUDIO_CHUNK_SAMPLES must be positive")
	}
	if cfg.PlaybackQueueDepth <= 0 {
		return Config{}, fmt.Errorf("AUDIO_PLAYBACK_QUEUE_DEPTH must be positive")
	}
	switch strings.ToLower(cfg.AnalyzerProvider) {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("ANALYZER_PROVIDER must be auto, gemini or mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
