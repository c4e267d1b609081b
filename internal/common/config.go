package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Imaging  ImagingConfig
	OCR      OCRConfig
	AI       AIConfig
	Classify ClassifyConfig
	Pipeline PipelineConfig
	Notify   NotifyConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ImagingConfig bounds the normalized artifacts.
type ImagingConfig struct {
	MaxWidth    int // main image fit bound, default 2048
	MaxHeight   int // main image fit bound, default 2048
	Quality     int // JPEG re-encode quality, default 85
	ThumbSize   int // square thumbnail side, default 400
	OCRHeight   int // OCR variant height bound, default 2000
	ArtifactDir string
}

// OCRConfig holds text-extraction configuration
type OCRConfig struct {
	Languages   string // tesseract language bundle, default "spa+eng"
	TessdataDir string
	Timeout     time.Duration // per-extraction deadline
}

// AIConfig holds inference-provider configuration
type AIConfig struct {
	BaseURL        string
	APIKey         string
	TextModel      string
	VisionModel    string
	Temperature    float32
	Timeout        time.Duration // per-call deadline
	PromptPer1KUSD float64       // prompt token price per 1K
	OutputPer1KUSD float64       // completion token price per 1K
}

// ClassifyConfig holds the staged-strategy thresholds.
type ClassifyConfig struct {
	KeywordThreshold float64 // auto-accept for the keyword stage, default 0.8
	TextThreshold    float64 // auto-accept for the text-AI stage, default 0.7
}

// PipelineConfig holds orchestrator limits and timeouts.
type PipelineConfig struct {
	MaxFilesPerDocument int
	MaxFileBytes        int64
	NormalizeTimeout    time.Duration
	InboxDir            string        // watched drop directory; empty disables the watcher
	InboxDebounce       time.Duration // coalesce bursts of file events
}

// NotifyConfig holds the event-sink configuration.
type NotifyConfig struct {
	NATSURL string // empty disables publishing
	Subject string
}

// MetricsConfig holds the /metrics listener configuration.
type MetricsConfig struct {
	Addr string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Imaging: ImagingConfig{
			MaxWidth:    getEnvAsInt("IMG_MAX_WIDTH", 2048),
			MaxHeight:   getEnvAsInt("IMG_MAX_HEIGHT", 2048),
			Quality:     getEnvAsInt("IMG_QUALITY", 85),
			ThumbSize:   getEnvAsInt("IMG_THUMB_SIZE", 400),
			OCRHeight:   getEnvAsInt("IMG_OCR_HEIGHT", 2000),
			ArtifactDir: getEnv("ARTIFACT_DIR", "./data/artifacts"),
		},
		OCR: OCRConfig{
			Languages:   getEnv("OCR_LANGUAGES", "spa+eng"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			Timeout:     getEnvAsDuration("OCR_TIMEOUT", 15*time.Second),
		},
		AI: AIConfig{
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			TextModel:      getEnv("OPENAI_TEXT_MODEL", "gpt-4o-mini"),
			VisionModel:    getEnv("OPENAI_VISION_MODEL", "gpt-4o"),
			Temperature:    getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:        getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
			PromptPer1KUSD: getEnvAsFloat64("OPENAI_PROMPT_PER_1K_USD", 0.00015),
			OutputPer1KUSD: getEnvAsFloat64("OPENAI_OUTPUT_PER_1K_USD", 0.0006),
		},
		Classify: ClassifyConfig{
			KeywordThreshold: getEnvAsFloat64("CLASSIFY_KEYWORD_THRESHOLD", 0.8),
			TextThreshold:    getEnvAsFloat64("CLASSIFY_TEXT_THRESHOLD", 0.7),
		},
		Pipeline: PipelineConfig{
			MaxFilesPerDocument: getEnvAsInt("MAX_FILES_PER_DOCUMENT", 5),
			MaxFileBytes:        int64(getEnvAsInt("MAX_FILE_BYTES", 10<<20)),
			NormalizeTimeout:    getEnvAsDuration("NORMALIZE_TIMEOUT", 5*time.Second),
			InboxDir:            getEnv("INBOX_DIR", ""),
			InboxDebounce:       getEnvAsDuration("INBOX_DEBOUNCE", 500*time.Millisecond),
		},
		Notify: NotifyConfig{
			NATSURL: getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "documents.events"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9091"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.AI.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Classify.KeywordThreshold < 0 || c.Classify.KeywordThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "CLASSIFY_KEYWORD_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	if c.Classify.TextThreshold < 0 || c.Classify.TextThreshold > 1 {
		return NewAppError("CONFIG_ERROR", "CLASSIFY_TEXT_THRESHOLD must be in [0,1]", ErrInvalidInput)
	}
	return nil
}
