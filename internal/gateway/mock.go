package gateway

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no completion service
// is configured. It keeps the full consultation loop exercisable in dev.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(ctx context.Context, req CompletionRequest) (AgentReply, error) {
	select {
	case <-ctx.Done():
		return AgentReply{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	default:
	}

	if len(req.History) == 0 {
		return AgentReply{Content: "Hello, I'm your virtual clinician. How can I help you today?"}, nil
	}

	last := req.History[len(req.History)-1]
	text := strings.TrimSpace(last.Content)
	if text == "" {
		text = "that"
	}
	return AgentReply{
		Content: fmt.Sprintf("I see. Could you tell me more about %q, including when it started and how it has changed?", text),
	}, nil
}

func (a *MockAdapter) Summarize(ctx context.Context, req SummaryRequest) (ClinicalSummary, error) {
	select {
	case <-ctx.Done():
		return ClinicalSummary{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	default:
	}

	complaint := strings.TrimSpace(req.Fields["chief_complaint"])
	if complaint == "" {
		complaint = strings.TrimSpace(req.Fields["procedure"])
	}
	if complaint == "" {
		complaint = "the reported condition"
	}
	return ClinicalSummary{
		Summary:   fmt.Sprintf("Patient reports %s.", complaint),
		NextSteps: "Review the submitted details and schedule a follow-up if symptoms persist.",
	}, nil
}
