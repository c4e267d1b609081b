package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyUploaderID contextKey = "uploader_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithUploaderID adds an uploader identity to the context
func WithUploaderID(ctx context.Context, uploaderID string) context.Context {
	return context.WithValue(ctx, ContextKeyUploaderID, uploaderID)
}

// UploaderIDFromContext extracts the uploader identity from context
func UploaderIDFromContext(ctx context.Context) string {
	if uploaderID, ok := ctx.Value(ContextKeyUploaderID).(string); ok {
		return uploaderID
	}
	return ""
}
