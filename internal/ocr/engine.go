package ocr

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/fieldops/docsorter/internal/common"
)

// Config holds text-extraction configuration.
type Config struct {
	Languages   string // tesseract bundle, e.g. "spa+eng"; default "spa+eng"
	TessdataDir string
}

// Result is one extraction outcome.
//
// Confidence is on the engine's native 0-100 scale (tesseract mean word
// confidence). It is deliberately NOT the classifier's 0-1 scale; callers
// must not conflate the two.
type Result struct {
	Text       string
	Confidence float32 // 0-100
	WordCount  int
	LineCount  int
	Duration   time.Duration
}

// recognizer abstracts the underlying recognition context so tests can
// substitute a fake for the cgo-backed client.
type recognizer interface {
	SetImage(path string) error
	Text() (string, error)
	WordConfidences() ([]float64, error)
	Close() error
}

// Engine owns the process-wide recognition context. The context is
// expensive to initialize (language model load) and is not reentrant, so
// extraction requests are serialized: at most one runs at any instant and
// concurrent callers queue on the mutex.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client recognizer
	closed bool

	newRecognizer func(cfg Config) (recognizer, error)
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Languages == "" {
		cfg.Languages = "spa+eng"
	}
	return &Engine{cfg: cfg, logger: logger, newRecognizer: newGosseract}
}

// Extract runs OCR over the image at path. The shared context is acquired
// for the duration of the call; ctx deadline expiry surfaces as an
// ErrExtraction instead of hanging the caller.
func (e *Engine) Extract(ctx context.Context, path string) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := e.extract(path)
		ch <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn("ocr.extract.timeout", "path", path, "error", ctx.Err())
		return Result{}, common.ExtractionError("extraction deadline exceeded", ctx.Err())
	case o := <-ch:
		return o.res, o.err
	}
}

func (e *Engine) extract(path string) (Result, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Result{}, common.ExtractionError("engine closed", nil)
	}
	if e.client == nil {
		c, err := e.newRecognizer(e.cfg)
		if err != nil {
			e.logger.Error("ocr.init_failed", "languages", e.cfg.Languages, "error", err)
			return Result{}, common.ExtractionError("initialize recognition context", err)
		}
		e.logger.Info("ocr.context_initialized", "languages", e.cfg.Languages)
		e.client = c
	}

	if err := e.client.SetImage(path); err != nil {
		return Result{}, common.ExtractionError("set image", err)
	}
	raw, err := e.client.Text()
	if err != nil {
		e.logger.Error("ocr.recognize_failed", "path", path, "error", err)
		return Result{}, common.ExtractionError("recognize", err)
	}

	text := Normalize(raw)
	conf := float32(0)
	if confs, err := e.client.WordConfidences(); err == nil && len(confs) > 0 {
		var sum float64
		for _, c := range confs {
			sum += c
		}
		conf = float32(sum / float64(len(confs))) // already 0-100
	}

	res := Result{
		Text:       text,
		Confidence: conf,
		WordCount:  countWords(text),
		LineCount:  countLines(text),
		Duration:   time.Since(start),
	}
	e.logger.Debug("ocr.extract.ok",
		"path", path,
		"confidence", res.Confidence,
		"words", res.WordCount,
		"lines", res.LineCount,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// Close releases the recognition context. Further Extract calls fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// gosseractClient adapts *gosseract.Client to the recognizer interface.
type gosseractClient struct {
	c *gosseract.Client
}

func newGosseract(cfg Config) (recognizer, error) {
	c := gosseract.NewClient()
	langs := strings.Split(cfg.Languages, "+")
	if err := c.SetLanguage(langs...); err != nil {
		_ = c.Close()
		return nil, err
	}
	if cfg.TessdataDir != "" {
		if err := c.SetTessdataPrefix(cfg.TessdataDir); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return &gosseractClient{c: c}, nil
}

func (g *gosseractClient) SetImage(path string) error { return g.c.SetImage(path) }
func (g *gosseractClient) Text() (string, error)      { return g.c.Text() }
func (g *gosseractClient) Close() error               { return g.c.Close() }

func (g *gosseractClient) WordConfidences() ([]float64, error) {
	boxes, err := g.c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, b.Confidence)
	}
	return out, nil
}
