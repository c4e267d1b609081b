package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/constants"
)

// ImageDescriptor describes one stored artifact of a document image.
type ImageDescriptor struct {
	Path     string `json:"path"`
	ByteSize int64  `json:"byte_size"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Document is a photographed paper document (work order / purchase order).
//
// EntityID stays nil until a classification stage matches one; the vision
// stage is terminal even on a zero-confidence miss, so a document can be
// CLASSIFIED with EntityID == nil. Callers wanting human review gate on
// that, or on a low Confidence, rather than on Status.
type Document struct {
	ID           uuid.UUID                      `json:"id"`
	DocUUID      uuid.UUID                      `json:"doc_uuid"` // externally addressable id
	Images       []ImageDescriptor              `json:"images"`   // ordered; first is primary
	EntityID     *uuid.UUID                     `json:"entity_id,omitempty"`
	SiteName     *string                        `json:"site_name,omitempty"` // free-text override, independent of matching
	OCRText      *string                        `json:"ocr_text,omitempty"`
	Method       constants.ClassificationMethod `json:"classification_method"`
	Confidence   *float64                       `json:"confidence_score,omitempty"` // [0,1]
	Reasoning    string                         `json:"reasoning,omitempty"`
	Status       constants.DocumentStatus       `json:"status"`
	CostUSD      float64                        `json:"cost_usd"` // additive across re-classification attempts
	ProcessingMS int64                          `json:"processing_ms"`
	UploadedBy   string                         `json:"uploaded_by"`
	CreatedAt    time.Time                      `json:"created_at"`
	UpdatedAt    time.Time                      `json:"updated_at"`
}

// Primary returns the document's primary image descriptor.
func (d *Document) Primary() *ImageDescriptor {
	if len(d.Images) == 0 {
		return nil
	}
	return &d.Images[0]
}

// Feedback compares a predicted entity with an operator-corrected one.
// Used for future accuracy reporting.
type Feedback struct {
	ID          uuid.UUID  `json:"id"`
	DocumentID  uuid.UUID  `json:"document_id"`
	PredictedID *uuid.UUID `json:"predicted_entity_id,omitempty"`
	ActualID    uuid.UUID  `json:"actual_entity_id"`
	IsCorrect   bool       `json:"is_correct"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
