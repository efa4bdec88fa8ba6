package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelinehq/careline/internal/gateway"
	"github.com/carelinehq/careline/internal/persona"
)

// ErrMissingField reports a required field left empty by the caller. This is
// a client error, checked before any gateway call is made.
var ErrMissingField = errors.New("missing required field")

// IntakeFields is the structured input of the automated patient intake flow.
type IntakeFields struct {
	PatientName    string `json:"patient_name"`
	ChiefComplaint string `json:"chief_complaint"`
	Symptoms       string `json:"symptoms"`
	MedicalHistory string `json:"medical_history"`
	Medications    string `json:"medications"`
	Allergies      string `json:"allergies"`
}

// PostOpFields is the structured input of the post-operative check flow.
type PostOpFields struct {
	PatientName      string `json:"patient_name"`
	Procedure        string `json:"procedure"`
	DaysSinceSurgery string `json:"days_since_surgery"`
	PainLevel        string `json:"pain_level"`
	WoundCondition   string `json:"wound_condition"`
	Concerns         string `json:"concerns"`
}

// Service runs the stateless one-shot summary flows. Each call is independent
// and repeatable: identical input is always accepted, no shared state exists
// between calls.
type Service struct {
	adapter  gateway.Adapter
	personas *persona.Registry
	timeout  time.Duration
}

func NewService(adapter gateway.Adapter, personas *persona.Registry, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{adapter: adapter, personas: personas, timeout: timeout}
}

// SubmitIntake validates the fields and produces a clinical summary. A
// gateway payload missing required summary fields surfaces as
// gateway.ErrMalformed, which callers must treat as retryable.
func (s *Service) SubmitIntake(ctx context.Context, fields IntakeFields) (gateway.ClinicalSummary, error) {
	if err := requireFields(map[string]string{
		"patient_name":    fields.PatientName,
		"chief_complaint": fields.ChiefComplaint,
		"symptoms":        fields.Symptoms,
	}); err != nil {
		return gateway.ClinicalSummary{}, err
	}

	return s.summarize(ctx, map[string]string{
		"patient_name":    strings.TrimSpace(fields.PatientName),
		"chief_complaint": strings.TrimSpace(fields.ChiefComplaint),
		"symptoms":        strings.TrimSpace(fields.Symptoms),
		"medical_history": strings.TrimSpace(fields.MedicalHistory),
		"medications":     strings.TrimSpace(fields.Medications),
		"allergies":       strings.TrimSpace(fields.Allergies),
	})
}

// SubmitPostOp validates the fields and produces a post-operative summary.
func (s *Service) SubmitPostOp(ctx context.Context, fields PostOpFields) (gateway.ClinicalSummary, error) {
	if err := requireFields(map[string]string{
		"patient_name": fields.PatientName,
		"procedure":    fields.Procedure,
		"pain_level":   fields.PainLevel,
	}); err != nil {
		return gateway.ClinicalSummary{}, err
	}

	return s.summarize(ctx, map[string]string{
		"patient_name":       strings.TrimSpace(fields.PatientName),
		"procedure":          strings.TrimSpace(fields.Procedure),
		"days_since_surgery": strings.TrimSpace(fields.DaysSinceSurgery),
		"pain_level":         strings.TrimSpace(fields.PainLevel),
		"wound_condition":    strings.TrimSpace(fields.WoundCondition),
		"concerns":           strings.TrimSpace(fields.Concerns),
	})
}

func (s *Service) summarize(ctx context.Context, fields map[string]string) (gateway.ClinicalSummary, error) {
	p, ok := s.personas.Get(persona.PatientIntake)
	if !ok {
		return gateway.ClinicalSummary{}, errors.New("intake persona not registered")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.adapter.Summarize(callCtx, gateway.SummaryRequest{
		System: p.SystemPrompt,
		Fields: fields,
	})
}

func requireFields(required map[string]string) error {
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return nil
}
