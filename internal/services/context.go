package services

import "context"

type contextKey string

const (
	itemIDKey    contextKey = "item_id"
	annotatorKey contextKey = "annotator"
	projectKey   contextKey = "project_id"
)

// WithItemID stores the active item identifier on the context.
func WithItemID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// ItemIDFromContext extracts the active item identifier, if present.
func ItemIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(itemIDKey).(int64)
	return id, ok
}

// WithAnnotator stores the acting annotator on the context.
func WithAnnotator(ctx context.Context, annotator string) context.Context {
	return context.WithValue(ctx, annotatorKey, annotator)
}

// AnnotatorFromContext extracts the acting annotator, if present.
func AnnotatorFromContext(ctx context.Context) (string, bool) {
	annotator, ok := ctx.Value(annotatorKey).(string)
	return annotator, ok
}

// WithProjectID stores the active project identifier on the context.
func WithProjectID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, projectKey, id)
}

// ProjectIDFromContext extracts the active project identifier, if present.
func ProjectIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(projectKey).(int64)
	return id, ok
}
