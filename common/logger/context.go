package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Each pipeline stage enriches the context it hands to the next one, so a log line
// emitted deep inside the executor still carries the PR and comment that caused it.
type LogFields struct {
	PRID           *string // Full PR id, owner/repo/number
	NotificationID *string // GitHub notification thread id
	CommentID      *int64  // Triggering comment id
	Command        *string // Command kind (e.g., "score", "include")
	MessageID      *string // Redis stream message ID
	Handle         *string // Contributor handle
	Component      string  // Component name (e.g., "devbot.pipeline.runner")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.PRID != nil {
		result.PRID = new.PRID
	}
	if new.NotificationID != nil {
		result.NotificationID = new.NotificationID
	}
	if new.CommentID != nil {
		result.CommentID = new.CommentID
	}
	if new.Command != nil {
		result.Command = new.Command
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Handle != nil {
		result.Handle = new.Handle
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{PRID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Used for comment bodies, which can be arbitrarily long.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
