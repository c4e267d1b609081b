package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/constants"
)

// Candidate is one scored alternative from a classification stage.
type Candidate struct {
	EntityID   uuid.UUID `json:"entity_id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
}

// ClassificationAttempt is the transient per-stage outcome. One is produced
// per stage; only the winning attempt is persisted onto the document.
type ClassificationAttempt struct {
	Method     constants.ClassificationMethod `json:"method"`
	EntityID   *uuid.UUID                     `json:"entity_id,omitempty"`
	Confidence float64                        `json:"confidence"`
	Reasoning  string                         `json:"reasoning"`
	Candidates []Candidate                    `json:"candidates,omitempty"` // top-N alternatives
	CostUSD    float64                        `json:"cost_usd"`
	Latency    time.Duration                  `json:"latency"`
}

// Accepted reports whether the attempt carries a matched entity.
func (a *ClassificationAttempt) Accepted() bool {
	return a.EntityID != nil
}
