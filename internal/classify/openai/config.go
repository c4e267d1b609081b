package openai

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldops/docsorter/internal/resilience"
)

// Config holds the provider connection and pricing knobs. Prices are per
// 1K tokens; cost accounting is computed from provider-reported usage.
type Config struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	VisionModel string
	Temperature float32
	Timeout     time.Duration

	PromptPer1KUSD float64
	OutputPer1KUSD float64
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	log        *slog.Logger
}

// NewClient builds a provider client. executor may be nil; when set, calls
// run behind its retry/circuit-breaker policy.
func NewClient(cfg Config, executor *resilience.Executor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
		log:        logger,
	}
}
