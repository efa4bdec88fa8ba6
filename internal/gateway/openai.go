package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/carelinehq/careline/internal/reliability"
)

const (
	defaultModel     = "gpt-4o-mini"
	transientRetries = 1
	retryBackoffBase = 250 * time.Millisecond
	retryBackoffCap  = 1 * time.Second
)

// replySchemaInstruction pins the JSON contract for consultation turns. The
// response format is constrained to a JSON object, but the field set still has
// to be spelled out in the instructions.
const replySchemaInstruction = `Respond with a single JSON object: ` +
	`{"content": string, "referral": boolean, "referral_reason": string}. ` +
	`Set "referral" to true only when a human clinician must take over, and ` +
	`give the reason in "referral_reason".`

const summarySchemaInstruction = `Respond with a single JSON object: ` +
	`{"summary": string, "next_steps": string, "concerns": string}. ` +
	`"summary" and "next_steps" must be non-empty.`

// OpenAIAdapter calls the OpenAI chat completion API with a JSON-constrained
// output contract.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdapter(apiKey, baseURL, model string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) (AgentReply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.System + "\n\n" + replySchemaInstruction,
	})
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "agent" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	raw, err := a.createJSONCompletion(ctx, msgs)
	if err != nil {
		return AgentReply{}, err
	}
	return parseAgentReply(raw)
}

func (a *OpenAIAdapter) Summarize(ctx context.Context, req SummaryRequest) (ClinicalSummary, error) {
	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return ClinicalSummary{}, fmt.Errorf("encode summary fields: %w", err)
	}
	msgs := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System + "\n\n" + summarySchemaInstruction,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: string(fields),
		},
	}

	raw, err := a.createJSONCompletion(ctx, msgs)
	if err != nil {
		return ClinicalSummary{}, err
	}
	return parseClinicalSummary(raw)
}

func (a *OpenAIAdapter) createJSONCompletion(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, retryBackoffBase, retryBackoffCap)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.model,
			Messages:    msgs,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			lastErr = classifyCompletionError(err)
			if retryableCompletionError(err) {
				continue
			}
			return "", lastErr
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices in response", ErrMalformed)
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

// retryableCompletionError reports whether a failed attempt is worth one more
// try. Context cancellation and client-side API errors (bad request, auth) are
// not; throttling and server-side statuses are.
func retryableCompletionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	// Transport-level failures (connection reset, DNS) have no status.
	return true
}

// classifyCompletionError maps transport errors onto the gateway taxonomy.
func classifyCompletionError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func parseAgentReply(raw string) (AgentReply, error) {
	var reply AgentReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return AgentReply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(reply.Content) == "" {
		return AgentReply{}, fmt.Errorf("%w: empty content", ErrMalformed)
	}
	// Never let a self-reported referral arrive without a reason.
	if reply.Referral && strings.TrimSpace(reply.ReferralReason) == "" {
		reply.ReferralReason = "the assistant flagged this turn for clinician review"
	}
	if !reply.Referral {
		reply.ReferralReason = ""
	}
	return reply, nil
}

func parseClinicalSummary(raw string) (ClinicalSummary, error) {
	var summary ClinicalSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return ClinicalSummary{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(summary.Summary) == "" {
		return ClinicalSummary{}, fmt.Errorf("%w: missing summary", ErrMalformed)
	}
	if strings.TrimSpace(summary.NextSteps) == "" {
		return ClinicalSummary{}, fmt.Errorf("%w: missing next_steps", ErrMalformed)
	}
	return summary, nil
}
