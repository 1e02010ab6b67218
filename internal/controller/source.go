package controller

import "context"

// Trigger sources.
const (
	SourceHotkey   = "hotkey"
	SourceUI       = "ui"
	SourceShutdown = "shutdown"
	SourceUnknown  = "unknown"
)

type sourceKey struct{}

// WithSource labels ctx with the trigger source for logs, metrics and history.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the trigger source recorded in ctx.
func SourceFrom(ctx context.Context) string {
	if ctx != nil {
		if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
			return s
		}
	}
	return SourceUnknown
}
