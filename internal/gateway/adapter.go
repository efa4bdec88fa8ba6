package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one turn of conversation history sent to the completion service.
type Message struct {
	Role    string `json:"role"` // "patient" or "agent"
	Content string `json:"content"`
}

// CompletionRequest carries the persona instructions and ordered history for
// one consultation turn. An empty history requests the opening agent turn.
type CompletionRequest struct {
	System  string    `json:"system"`
	History []Message `json:"history"`
}

// AgentReply is the schema-constrained reply of the completion service for a
// consultation turn. Referral is the model's own escalation signal; it is
// advisory and merged with the deterministic triage rules by the caller.
type AgentReply struct {
	Content        string `json:"content"`
	Referral       bool   `json:"referral"`
	ReferralReason string `json:"referral_reason,omitempty"`
}

// SummaryRequest carries the structured fields of a one-shot flow.
type SummaryRequest struct {
	System string            `json:"system"`
	Fields map[string]string `json:"fields"`
}

// ClinicalSummary is the structured output of the intake and post-op flows.
type ClinicalSummary struct {
	Summary   string `json:"summary"`
	NextSteps string `json:"next_steps"`
	Concerns  string `json:"concerns,omitempty"`
}

// Error taxonomy for the completion service boundary. Callers distinguish
// transient outages (recoverable with a fallback turn) from schema violations
// (retryable by the caller, never silently coerced).
var (
	ErrUnavailable = errors.New("completion service unavailable")
	ErrRateLimited = errors.New("completion service rate limited")
	ErrMalformed   = errors.New("malformed completion")
)

// Adapter is the completion-gateway boundary: a possibly slow, possibly
// failing remote text-generation service with a JSON output contract.
type Adapter interface {
	Complete(ctx context.Context, req CompletionRequest) (AgentReply, error)
	Summarize(ctx context.Context, req SummaryRequest) (ClinicalSummary, error)
}

// Config controls adapter construction.
type Config struct {
	Mode          string
	APIKey        string
	BaseURL       string
	Model         string
	FallbackModel string
}

// NewAdapter builds an adapter for the configured mode. "auto" prefers the
// OpenAI-backed adapter when an API key is present and falls back to the
// deterministic mock otherwise.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMockAdapter(), nil
		}
		return newOpenAIWithFallback(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai API key is required for openai mode")
		}
		return newOpenAIWithFallback(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.Mode)
	}
}

func newOpenAIWithFallback(cfg Config) Adapter {
	primary := NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model)
	if strings.TrimSpace(cfg.FallbackModel) == "" {
		return primary
	}
	secondary := NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.FallbackModel)
	return NewFallbackAdapter(primary, secondary)
}
