package consult

import (
	"errors"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RolePatient Role = "patient"
	RoleAgent   Role = "agent"
)

// Status is the lifecycle state of a consultation session.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrSessionClosed    = errors.New("session is closed")
	ErrEmptyMessage     = errors.New("patient message is empty")
	ErrUnknownSpecialty = errors.New("unknown specialty")
)

// Turn is one utterance in a consultation. Turns are append-only and never
// mutated after they are added to a session.
type Turn struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	IsReferral     bool      `json:"is_referral"`
	ReferralReason string    `json:"referral_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session is one end-to-end consultation with its own turn history and status.
type Session struct {
	ID             string    `json:"session_id"`
	Specialty      string    `json:"specialty"`
	Status         Status    `json:"status"`
	Turns          []Turn    `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Closed reports whether the session is in a terminal state for patient input.
func (s *Session) Closed() bool {
	return s.Status != StatusActive
}
