package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all runtime configuration.
//
// Values are resolved in three layers: built-in defaults, an optional TOML
// file, then environment variables. Only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Database: postgres://… or sqlite://path
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Shared queue store: redis://…, postgres, or memory://
	QueueURL  string
	QueuePool string

	// Poller
	FeedBaseURL          string
	PollInterval         time.Duration
	Lookback             time.Duration
	FetchTimeout         time.Duration
	FetchRetries         int
	FetchRetryDelay      time.Duration
	DevMode              bool
	DevMaxItemsPerSource int

	// Dispatcher
	IdleShort        time.Duration
	IdleLong         time.Duration
	NotifyRetries    int
	NotifyRetryDelay time.Duration
	LockPath         string

	// Notification channel
	TelegramToken   string
	TelegramBaseURL string
	NotifyTimeout   time.Duration
	// Rate limiting: messages per second overall and per recipient
	NotifyRate             float64
	NotifyRatePerRecipient float64

	// Pipeline
	YtDlpPath          string
	SubtitleLangs      string
	WorkDir            string
	TranscribeURL      string
	TranscribeModel    string
	LLMAPIKey          string
	LLMBaseURL         string
	LLMModel           string
	LLMTimeout         time.Duration
	TelegraphToken     string
	TelegraphBaseURL   string
	PipelineRetries    int
	PipelineRetryDelay time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPPort:        "8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,

		LogLevel:  "info",
		LogFormat: "auto",

		DBMaxConns: 10,
		DBMinConns: 2,

		QueueURL:  "redis://localhost:6379/0",
		QueuePool: "feed_pool",

		FeedBaseURL:          "https://rsshub.app/",
		PollInterval:         3 * time.Minute,
		Lookback:             24 * time.Hour,
		FetchTimeout:         30 * time.Second,
		FetchRetries:         4,
		FetchRetryDelay:      time.Second,
		DevMaxItemsPerSource: 1,

		IdleShort:        20 * time.Second,
		IdleLong:         3 * time.Minute,
		NotifyRetries:    4,
		NotifyRetryDelay: time.Second,
		LockPath:         os.TempDir() + "/feeddigest.lock",

		TelegramBaseURL:        "https://api.telegram.org",
		NotifyTimeout:          10 * time.Second,
		NotifyRate:             25,
		NotifyRatePerRecipient: 1,

		YtDlpPath:          "yt-dlp",
		SubtitleLangs:      "en.*,zh.*",
		WorkDir:            os.TempDir(),
		TranscribeModel:    "whisper-1",
		LLMBaseURL:         "https://api.openai.com/v1",
		LLMModel:           "gpt-4o-mini",
		LLMTimeout:         2 * time.Minute,
		TelegraphBaseURL:   "https://api.telegra.ph",
		PipelineRetries:    2,
		PipelineRetryDelay: time.Second,
	}
}

// Load resolves the configuration. path names an optional TOML file; when
// empty, CONFIG_FILE is consulted. A missing explicit file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the worker loops rely on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Lookback <= 0 {
		return errors.New("lookback must be positive")
	}
	if c.IdleShort <= 0 || c.IdleLong <= 0 {
		return errors.New("idle intervals must be positive")
	}
	if c.FetchRetries < 0 || c.NotifyRetries < 0 || c.PipelineRetries < 0 {
		return errors.New("retry counts must not be negative")
	}
	if c.NotifyRate <= 0 || c.NotifyRatePerRecipient <= 0 {
		return errors.New("notify rates must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.ReadTimeout = getDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getDuration("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = int32(getInt("DB_MAX_CONNS", int(cfg.DBMaxConns)))
	cfg.DBMinConns = int32(getInt("DB_MIN_CONNS", int(cfg.DBMinConns)))

	cfg.QueueURL = getEnv("QUEUE_URL", cfg.QueueURL)
	cfg.QueuePool = getEnv("QUEUE_POOL", cfg.QueuePool)

	cfg.FeedBaseURL = getEnv("FEED_BASE_URL", cfg.FeedBaseURL)
	cfg.PollInterval = getDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.Lookback = getDuration("LOOKBACK", cfg.Lookback)
	cfg.FetchTimeout = getDuration("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.FetchRetries = getInt("FETCH_RETRIES", cfg.FetchRetries)
	cfg.FetchRetryDelay = getDuration("FETCH_RETRY_DELAY", cfg.FetchRetryDelay)
	cfg.DevMode = getBool("DEV_MODE", cfg.DevMode)
	cfg.DevMaxItemsPerSource = getInt("DEV_MAX_ITEMS_PER_SOURCE", cfg.DevMaxItemsPerSource)

	cfg.IdleShort = getDuration("IDLE_SHORT", cfg.IdleShort)
	cfg.IdleLong = getDuration("IDLE_LONG", cfg.IdleLong)
	cfg.NotifyRetries = getInt("NOTIFY_RETRIES", cfg.NotifyRetries)
	cfg.NotifyRetryDelay = getDuration("NOTIFY_RETRY_DELAY", cfg.NotifyRetryDelay)
	cfg.LockPath = getEnv("LOCK_PATH", cfg.LockPath)

	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramToken)
	cfg.TelegramBaseURL = getEnv("TELEGRAM_BASE_URL", cfg.TelegramBaseURL)
	cfg.NotifyTimeout = getDuration("NOTIFY_TIMEOUT", cfg.NotifyTimeout)
	cfg.NotifyRate = getFloat("NOTIFY_RATE", cfg.NotifyRate)
	cfg.NotifyRatePerRecipient = getFloat("NOTIFY_RATE_PER_RECIPIENT", cfg.NotifyRatePerRecipient)

	cfg.YtDlpPath = getEnv("YTDLP_PATH", cfg.YtDlpPath)
	cfg.SubtitleLangs = getEnv("SUBTITLE_LANGS", cfg.SubtitleLangs)
	cfg.WorkDir = getEnv("WORK_DIR", cfg.WorkDir)
	cfg.TranscribeURL = getEnv("TRANSCRIBE_URL", cfg.TranscribeURL)
	cfg.TranscribeModel = getEnv("TRANSCRIBE_MODEL", cfg.TranscribeModel)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMTimeout = getDuration("LLM_TIMEOUT", cfg.LLMTimeout)
	cfg.TelegraphToken = getEnv("TELEGRAPH_ACCESS_TOKEN", cfg.TelegraphToken)
	cfg.TelegraphBaseURL = getEnv("TELEGRAPH_BASE_URL", cfg.TelegraphBaseURL)
	cfg.PipelineRetries = getInt("PIPELINE_RETRIES", cfg.PipelineRetries)
	cfg.PipelineRetryDelay = getDuration("PIPELINE_RETRY_DELAY", cfg.PipelineRetryDelay)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// file mirrors the TOML layout. Durations are strings ("3m", "24h").
type file struct {
	Server struct {
		HTTPPort        string `toml:"http_port"`
		ShutdownTimeout string `toml:"shutdown_timeout"`
	} `toml:"server"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Database struct {
		URL      string `toml:"url"`
		MaxConns int32  `toml:"max_conns"`
	} `toml:"database"`
	Queue struct {
		URL  string `toml:"url"`
		Pool string `toml:"pool"`
	} `toml:"queue"`
	Poller struct {
		FeedBaseURL     string `toml:"feed_base_url"`
		Interval        string `toml:"interval"`
		Lookback        string `toml:"lookback"`
		FetchRetries    *int   `toml:"fetch_retries"`
		FetchRetryDelay string `toml:"fetch_retry_delay"`
		DevMode         bool   `toml:"dev_mode"`
		DevMaxItems     int    `toml:"dev_max_items_per_source"`
	} `toml:"poller"`
	Dispatcher struct {
		IdleShort     string `toml:"idle_short"`
		IdleLong      string `toml:"idle_long"`
		NotifyRetries *int   `toml:"notify_retries"`
		LockPath      string `toml:"lock_path"`
	} `toml:"dispatcher"`
	Telegram struct {
		Token            string  `toml:"token"`
		BaseURL          string  `toml:"base_url"`
		Rate             float64 `toml:"rate"`
		RatePerRecipient float64 `toml:"rate_per_recipient"`
	} `toml:"telegram"`
	Pipeline struct {
		YtDlpPath       string `toml:"ytdlp_path"`
		SubtitleLangs   string `toml:"subtitle_langs"`
		WorkDir         string `toml:"work_dir"`
		TranscribeURL   string `toml:"transcribe_url"`
		TranscribeModel string `toml:"transcribe_model"`
		LLMAPIKey       string `toml:"llm_api_key"`
		LLMBaseURL      string `toml:"llm_base_url"`
		LLMModel        string `toml:"llm_model"`
		TelegraphToken  string `toml:"telegraph_access_token"`
	} `toml:"pipeline"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.HTTPPort, f.Server.HTTPPort)
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)
	setString(&cfg.DatabaseURL, f.Database.URL)
	if f.Database.MaxConns > 0 {
		cfg.DBMaxConns = f.Database.MaxConns
	}
	setString(&cfg.QueueURL, f.Queue.URL)
	setString(&cfg.QueuePool, f.Queue.Pool)
	setString(&cfg.FeedBaseURL, f.Poller.FeedBaseURL)
	if f.Poller.FetchRetries != nil {
		cfg.FetchRetries = *f.Poller.FetchRetries
	}
	cfg.DevMode = cfg.DevMode || f.Poller.DevMode
	if f.Poller.DevMaxItems > 0 {
		cfg.DevMaxItemsPerSource = f.Poller.DevMaxItems
	}
	if f.Dispatcher.NotifyRetries != nil {
		cfg.NotifyRetries = *f.Dispatcher.NotifyRetries
	}
	setString(&cfg.LockPath, f.Dispatcher.LockPath)
	setString(&cfg.TelegramToken, f.Telegram.Token)
	setString(&cfg.TelegramBaseURL, f.Telegram.BaseURL)
	if f.Telegram.Rate > 0 {
		cfg.NotifyRate = f.Telegram.Rate
	}
	if f.Telegram.RatePerRecipient > 0 {
		cfg.NotifyRatePerRecipient = f.Telegram.RatePerRecipient
	}
	setString(&cfg.YtDlpPath, f.Pipeline.YtDlpPath)
	setString(&cfg.SubtitleLangs, f.Pipeline.SubtitleLangs)
	setString(&cfg.WorkDir, f.Pipeline.WorkDir)
	setString(&cfg.TranscribeURL, f.Pipeline.TranscribeURL)
	setString(&cfg.TranscribeModel, f.Pipeline.TranscribeModel)
	setString(&cfg.LLMAPIKey, f.Pipeline.LLMAPIKey)
	setString(&cfg.LLMBaseURL, f.Pipeline.LLMBaseURL)
	setString(&cfg.LLMModel, f.Pipeline.LLMModel)
	setString(&cfg.TelegraphToken, f.Pipeline.TelegraphToken)

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"server.shutdown_timeout", f.Server.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"poller.interval", f.Poller.Interval, &cfg.PollInterval},
		{"poller.lookback", f.Poller.Lookback, &cfg.Lookback},
		{"poller.fetch_retry_delay", f.Poller.FetchRetryDelay, &cfg.FetchRetryDelay},
		{"dispatcher.idle_short", f.Dispatcher.IdleShort, &cfg.IdleShort},
		{"dispatcher.idle_long", f.Dispatcher.IdleLong, &cfg.IdleLong},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
		*d.field = parsed
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}
