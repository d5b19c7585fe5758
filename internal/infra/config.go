package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend identifiers accepted by QUOTA_BACKEND, HISTORY_BACKEND and STORAGE_BACKEND.
const (
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendMinio      = "minio"
	BackendFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	Port        string `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	JWTSecret   string `envconfig:"JWT_SECRET"`
	GeoIPDBPath string `envconfig:"GEOIP_DB_PATH"`

	HTTPReadTimeout    time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout   time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"180s"`
	HTTPIdleTimeout    time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	RateLimitPerMin    int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	QuotaBackend   string `envconfig:"QUOTA_BACKEND" default:"postgres"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	HistoryBackend string `envconfig:"HISTORY_BACKEND" default:"postgres"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"./artifex.db"`

	Storage StorageConfig
	Qwen    QwenConfig
	Jobs    JobsConfig

	TierCapabilitiesFile string `envconfig:"TIER_CAPABILITIES_FILE"`
}

// StorageConfig selects and configures the media object store.
type StorageConfig struct {
	Backend        string `envconfig:"STORAGE_BACKEND" default:"filesystem"`
	Path           string `envconfig:"STORAGE_PATH" default:"./storage"`
	BaseURL        string `envconfig:"STORAGE_BASE_URL"`
	MaxBytes       int64  `envconfig:"MEDIA_MAX_BYTES" default:"52428800"`
	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioBucket    string `envconfig:"MINIO_BUCKET" default:"generations"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinioPublicURL string `envconfig:"MINIO_PUBLIC_URL"`
}

// QwenConfig configures the DashScope provider.
type QwenConfig struct {
	APIKey     string        `envconfig:"DASHSCOPE_API_KEY"`
	BaseURL    string        `envconfig:"DASHSCOPE_BASE_URL" default:"https://dashscope-intl.aliyuncs.com/api/v1"`
	ImageModel string        `envconfig:"QWEN_IMAGE_MODEL" default:"wanx2.1-t2i-turbo"`
	EditModel  string        `envconfig:"QWEN_EDIT_MODEL" default:"wanx2.1-imageedit"`
	VideoModel string        `envconfig:"QWEN_VIDEO_MODEL" default:"wanx2.1-i2v-turbo"`
	Timeout    time.Duration `envconfig:"DASHSCOPE_TIMEOUT" default:"45s"`
}

// JobsConfig carries the orchestration retry and polling policy.
type JobsConfig struct {
	SubmitAttempts    int           `envconfig:"SUBMIT_ATTEMPTS" default:"3"`
	SubmitBaseDelay   time.Duration `envconfig:"SUBMIT_BASE_DELAY" default:"1s"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	PollAttemptsImage int           `envconfig:"POLL_ATTEMPTS_IMAGE" default:"30"`
	PollAttemptsVideo int           `envconfig:"POLL_ATTEMPTS_VIDEO" default:"60"`
	UploadConcurrency int           `envconfig:"UPLOAD_CONCURRENCY" default:"4"`
	MaxPromptLength   int           `envconfig:"MAX_PROMPT_LENGTH" default:"2000"`
	// reservations still active after two run windows are rolled back
	StaleSweepInterval time.Duration `envconfig:"QUOTA_SWEEP_INTERVAL" default:"10m"`
}

// runSlack covers uploads and history writes after the provider is done.
const runSlack = 30 * time.Second

// RunWindow is the longest a single generation can take: every submit attempt
// timing out with backoff in between, then the longest poll window.
func (c *Config) RunWindow() time.Duration {
	j := c.Jobs
	var submit time.Duration
	for i := 0; i < j.SubmitAttempts; i++ {
		submit += c.Qwen.Timeout
		if i > 0 {
			submit += j.SubmitBaseDelay << (i - 1)
		}
	}
	poll := time.Duration(max(j.PollAttemptsImage, j.PollAttemptsVideo)) * j.PollInterval
	return submit + poll + runSlack
}

// LoadConfig loads configuration from .env files and environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.needsDatabase() && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.validateBackends(); err != nil {
		return nil, err
	}
	if cfg.Jobs.SubmitAttempts <= 0 {
		return nil, fmt.Errorf("SUBMIT_ATTEMPTS must be positive")
	}
	if cfg.Jobs.PollAttemptsImage <= 0 || cfg.Jobs.PollAttemptsVideo <= 0 {
		return nil, fmt.Errorf("POLL_ATTEMPTS_IMAGE and POLL_ATTEMPTS_VIDEO must be positive")
	}
	if strings.TrimSpace(cfg.Storage.BaseURL) == "" {
		cfg.Storage.BaseURL = fmt.Sprintf("http://localhost:%s/static", cfg.Port)
	}
	cfg.Storage.BaseURL = strings.TrimRight(cfg.Storage.BaseURL, "/")

	return cfg, nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) needsDatabase() bool {
	return c.QuotaBackend == BackendPostgres || c.HistoryBackend == BackendPostgres
}

func (c *Config) validateBackends() error {
	switch c.QuotaBackend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("QUOTA_BACKEND %q is not supported", c.QuotaBackend)
	}
	switch c.HistoryBackend {
	case BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("HISTORY_BACKEND %q is not supported", c.HistoryBackend)
	}
	switch c.Storage.Backend {
	case BackendFilesystem:
	case BackendMinio:
		// history keeps the URL forever, presigned links would expire
		if strings.TrimSpace(c.Storage.MinioPublicURL) == "" {
			return fmt.Errorf("MINIO_PUBLIC_URL is required with the minio storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND %q is not supported", c.Storage.Backend)
	}
	return nil
}
