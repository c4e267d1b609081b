package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/constants"
	"github.com/fieldops/docsorter/internal/directory"
	"github.com/fieldops/docsorter/internal/entity"
)

// Config holds the staged-strategy thresholds. Acceptance is a strict >=
// comparison: a candidate at exactly the threshold is accepted without
// escalating.
type Config struct {
	KeywordThreshold float64 // default 0.8
	TextThreshold    float64 // default 0.7
	MaxCandidates    int     // top-N alternatives kept per attempt, default 5
}

// Request is one classification job.
type Request struct {
	OCRText   string
	ImagePath string // original (main) image, used by the vision stage
	Strategy  Strategy
}

// Outcome is the tagged result of a full classification run. Method is
// always one of the defined values and Confidence always lands in [0,1];
// a failed run is Success=false with Method=error, never an absent result.
type Outcome struct {
	Success    bool
	Method     constants.ClassificationMethod
	EntityID   *uuid.UUID
	Confidence float64
	Reasoning  string
	Attempts   []entity.ClassificationAttempt
	CostUSD    float64
	Latency    time.Duration
}

// Engine runs the staged strategy: keyword matching is free and always
// tried first; each AI escalation has real monetary and latency cost, so it
// only happens when the cheaper stage is not confident enough. The vision
// stage is terminal no matter what: its result is final even at zero
// confidence, bounding total cost per document.
type Engine struct {
	cfg      Config
	dir      *directory.Directory
	provider Provider
	logger   *slog.Logger
}

func NewEngine(cfg Config, dir *directory.Directory, provider Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeywordThreshold <= 0 {
		cfg.KeywordThreshold = 0.8
	}
	if cfg.TextThreshold <= 0 {
		cfg.TextThreshold = 0.7
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 5
	}
	return &Engine{cfg: cfg, dir: dir, provider: provider, logger: logger}
}

// Classify executes the state machine for req. It never returns a Go
// error: stage failures escalate and a total failure is the Method=error
// terminal outcome, so callers always get a persistable result.
func (e *Engine) Classify(ctx context.Context, req Request) Outcome {
	start := time.Now()
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	// Fresh snapshot every run; keyword edits apply immediately.
	entities, err := e.dir.ListActive(ctx)
	if err != nil {
		return e.errorOutcome(start, nil, "load entity directory: "+err.Error())
	}

	var attempts []entity.ClassificationAttempt

	if strategy == StrategyAuto || strategy == StrategyKeyword {
		att := e.keywordAttempt(req.OCRText, entities)
		attempts = append(attempts, att)
		e.logAttempt(att)
		if strategy == StrategyKeyword || (att.Accepted() && att.Confidence >= e.cfg.KeywordThreshold) {
			return e.acceptOutcome(start, attempts, att)
		}
	}

	if strategy == StrategyAuto || strategy == StrategyAIText {
		att, err := e.aiTextAttempt(ctx, req.OCRText, entities)
		if err != nil {
			e.logger.Warn("classify.ai_text.failed", "error", err)
			if strategy == StrategyAIText {
				return e.errorOutcome(start, attempts, err.Error())
			}
			// recovered locally: escalate to the vision stage
			att = failedAttempt(constants.MethodAIText, err.Error())
		}
		attempts = append(attempts, att)
		e.logAttempt(att)
		if strategy == StrategyAIText || (att.Accepted() && att.Confidence >= e.cfg.TextThreshold) {
			return e.acceptOutcome(start, attempts, att)
		}
	}

	// Vision: the last resort always returns, matched or not.
	att, err := e.aiVisionAttempt(ctx, req.ImagePath, entities)
	if err != nil {
		e.logger.Error("classify.ai_vision.failed", "error", err)
		return e.errorOutcome(start, attempts, err.Error())
	}
	attempts = append(attempts, att)
	e.logAttempt(att)
	return e.acceptOutcome(start, attempts, att)
}

func (e *Engine) keywordAttempt(text string, entities []*entity.Entity) entity.ClassificationAttempt {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		att := failedAttempt(constants.MethodKeyword, "no OCR text available for keyword matching")
		att.Latency = time.Since(start)
		return att
	}

	candidates := ScoreKeywords(text, entities)
	if len(candidates) == 0 {
		att := failedAttempt(constants.MethodKeyword, "no entity keywords found in text")
		att.Latency = time.Since(start)
		return att
	}
	if len(candidates) > e.cfg.MaxCandidates {
		candidates = candidates[:e.cfg.MaxCandidates]
	}

	best := candidates[0]
	var matched []string
	for _, ent := range entities {
		if ent.ID == best.EntityID {
			matched = MatchedKeywords(text, ent)
			break
		}
	}
	id := best.EntityID
	return entity.ClassificationAttempt{
		Method:     constants.MethodKeyword,
		EntityID:   &id,
		Confidence: best.Confidence,
		Reasoning: fmt.Sprintf("matched %d/%d keywords for %q: %s",
			len(matched), keywordCount(entities, best.EntityID), best.Name, strings.Join(matched, ", ")),
		Candidates: candidates,
		Latency:    time.Since(start),
	}
}

func (e *Engine) aiTextAttempt(ctx context.Context, text string, entities []*entity.Entity) (entity.ClassificationAttempt, error) {
	start := time.Now()
	inf, err := e.provider.ClassifyByText(ctx, text, entities)
	if err != nil {
		return entity.ClassificationAttempt{}, err
	}
	return e.attemptFromInference(constants.MethodAIText, inf, entities, time.Since(start)), nil
}

func (e *Engine) aiVisionAttempt(ctx context.Context, imagePath string, entities []*entity.Entity) (entity.ClassificationAttempt, error) {
	start := time.Now()
	inf, err := e.provider.ClassifyByImage(ctx, imagePath, entities)
	if err != nil {
		return entity.ClassificationAttempt{}, err
	}
	return e.attemptFromInference(constants.MethodAIVision, inf, entities, time.Since(start)), nil
}

// attemptFromInference resolves the provider's named entity against the
// directory snapshot: by code first, then by case-insensitive exact name
// (aliases included). An unresolvable answer becomes an unmatched attempt.
func (e *Engine) attemptFromInference(
	method constants.ClassificationMethod,
	inf Inference,
	entities []*entity.Entity,
	latency time.Duration,
) entity.ClassificationAttempt {
	att := entity.ClassificationAttempt{
		Method:     method,
		Confidence: clamp01(inf.Confidence),
		Reasoning:  inf.Reasoning,
		CostUSD:    inf.CostUSD,
		Latency:    latency,
	}

	var match *entity.Entity
	if code := strings.TrimSpace(inf.EntityCode); code != "" {
		for _, ent := range entities {
			if strings.EqualFold(ent.Code, code) {
				match = ent
				break
			}
		}
	}
	if match == nil && strings.TrimSpace(inf.EntityName) != "" {
		for _, ent := range entities {
			if ent.MatchesName(inf.EntityName) {
				match = ent
				break
			}
		}
	}

	if match != nil {
		id := match.ID
		att.EntityID = &id
		att.Candidates = []entity.Candidate{{
			EntityID:   match.ID,
			Code:       match.Code,
			Name:       match.Name,
			Confidence: att.Confidence,
		}}
	} else if inf.EntityName != "" || inf.EntityCode != "" {
		att.Confidence = 0
		att.Reasoning = fmt.Sprintf("provider named unknown entity (name=%q code=%q): %s",
			inf.EntityName, inf.EntityCode, inf.Reasoning)
	}
	return att
}

func (e *Engine) acceptOutcome(start time.Time, attempts []entity.ClassificationAttempt, att entity.ClassificationAttempt) Outcome {
	return Outcome{
		Success:    att.Accepted(),
		Method:     att.Method,
		EntityID:   att.EntityID,
		Confidence: clamp01(att.Confidence),
		Reasoning:  att.Reasoning,
		Attempts:   attempts,
		CostUSD:    totalCost(attempts),
		Latency:    time.Since(start),
	}
}

func (e *Engine) errorOutcome(start time.Time, attempts []entity.ClassificationAttempt, reason string) Outcome {
	return Outcome{
		Success:    false,
		Method:     constants.MethodError,
		Confidence: 0,
		Reasoning:  reason,
		Attempts:   attempts,
		CostUSD:    totalCost(attempts),
		Latency:    time.Since(start),
	}
}

// logAttempt records every attempt, successful or not, so a downstream
// accuracy/cost dashboard can be built without re-deriving history.
func (e *Engine) logAttempt(att entity.ClassificationAttempt) {
	e.logger.Info("classify.attempt",
		"method", string(att.Method),
		"entity_id", uuidOrEmpty(att.EntityID),
		"confidence", att.Confidence,
		"cost_usd", att.CostUSD,
		"latency_ms", att.Latency.Milliseconds(),
	)
}

func failedAttempt(method constants.ClassificationMethod, reason string) entity.ClassificationAttempt {
	return entity.ClassificationAttempt{
		Method:     method,
		Confidence: 0,
		Reasoning:  reason,
	}
}

func keywordCount(entities []*entity.Entity, id uuid.UUID) int {
	for _, e := range entities {
		if e.ID == id {
			return len(e.Keywords)
		}
	}
	return 0
}

func totalCost(attempts []entity.ClassificationAttempt) float64 {
	var sum float64
	for _, a := range attempts {
		sum += a.CostUSD
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
