package constants

// DocumentStatus is the canonical lifecycle status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    DocumentStatus = "PENDING"    // created, pipeline not finished
	StatusProcessing DocumentStatus = "PROCESSING" // pipeline in flight
	StatusClassified DocumentStatus = "CLASSIFIED" // classification ran to completion
	StatusCompleted  DocumentStatus = "COMPLETED"  // operator confirmed / archived
	StatusFailed     DocumentStatus = "FAILED"     // terminal pipeline failure
	StatusDeleted    DocumentStatus = "DELETED"    // soft-deleted
)

// ClassificationMethod records which pipeline stage produced the attribution.
type ClassificationMethod string

const (
	MethodPending  ClassificationMethod = "pending"
	MethodKeyword  ClassificationMethod = "keyword"
	MethodAIText   ClassificationMethod = "ai_text"
	MethodAIVision ClassificationMethod = "ai_vision"
	MethodManual   ClassificationMethod = "manual"
	MethodError    ClassificationMethod = "error"
)

// IsTerminal reports whether a status allows no further pipeline writes.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeleted
}
