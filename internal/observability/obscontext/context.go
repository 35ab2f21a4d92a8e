// Package obscontext carries run-scoped identifiers used to enrich logs.
package obscontext

import "context"

type runIDKey struct{}
type phaseKey struct{}

func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(runIDKey{}).(string)
	return v
}

func WithPhase(ctx context.Context, phase string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey{}, phase)
}

func PhaseFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(phaseKey{}).(string)
	return v
}
