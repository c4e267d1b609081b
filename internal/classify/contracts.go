package classify

import (
	"context"

	"github.com/fieldops/docsorter/internal/entity"
)

// Strategy selects which stages run for a document.
type Strategy string

const (
	StrategyAuto     Strategy = "auto"      // keyword -> text-AI -> vision-AI
	StrategyKeyword  Strategy = "keyword"   // keyword stage only
	StrategyAIText   Strategy = "ai_text"   // text-AI stage only
	StrategyAIVision Strategy = "ai_vision" // vision-AI stage only
)

// Inference is one AI-provider answer. Confidence is always in [0,1];
// CostUSD is computed from provider-reported token usage.
type Inference struct {
	EntityName string
	EntityCode string
	Confidence float64
	Reasoning  string
	CostUSD    float64
}

// Provider is the swappable inference boundary.
type Provider interface {
	ClassifyByText(ctx context.Context, text string, entities []*entity.Entity) (Inference, error)
	ClassifyByImage(ctx context.Context, imagePath string, entities []*entity.Entity) (Inference, error)
}
