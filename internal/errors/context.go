package errors

import (
	"context"
)

// contextKey is a type for context keys
type contextKey string

const (
	jobIDKey contextKey = "job_id"
)

// WithJobID adds a job ID to the context for log correlation
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// GetJobID retrieves the job ID from the context
func GetJobID(ctx context.Context) string {
	if jobID, ok := ctx.Value(jobIDKey).(string); ok {
		return jobID
	}
	return ""
}
