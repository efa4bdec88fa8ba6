package gateway

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on transient
// failure. Context cancellation and schema violations are never retried on
// the secondary: the first is the caller's decision, the second would return
// the same malformed payload class again anyway.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

func (a *FallbackAdapter) Complete(ctx context.Context, req CompletionRequest) (AgentReply, error) {
	reply, err := a.primary.Complete(ctx, req)
	if err == nil || !shouldFallback(err) {
		return reply, err
	}
	fallbackReply, fallbackErr := a.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return AgentReply{}, fmt.Errorf("primary: %w; fallback: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}

func (a *FallbackAdapter) Summarize(ctx context.Context, req SummaryRequest) (ClinicalSummary, error) {
	summary, err := a.primary.Summarize(ctx, req)
	if err == nil || !shouldFallback(err) {
		return summary, err
	}
	fallbackSummary, fallbackErr := a.fallback.Summarize(ctx, req)
	if fallbackErr != nil {
		return ClinicalSummary{}, fmt.Errorf("primary: %w; fallback: %v", err, fallbackErr)
	}
	return fallbackSummary, nil
}

func shouldFallback(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformed) {
		return false
	}
	return true
}
