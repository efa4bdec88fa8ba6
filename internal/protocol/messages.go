package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/carelinehq/careline/internal/consult"
)

// MessageType identifies consultation stream payload variants.
type MessageType string

const (
	TypePatientMessage MessageType = "patient_message"
	TypeTurn           MessageType = "turn"
	TypeSessionStatus  MessageType = "session_status"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// PatientMessage is the only client-originated frame: one patient utterance.
type PatientMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// TurnEvent carries one appended turn to the client.
type TurnEvent struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	Turn      consult.Turn `json:"turn"`
}

// SessionStatusEvent reports the session state after an exchange.
type SessionStatusEvent struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Status    consult.Status `json:"status"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates a client frame.
func ParseClientMessage(raw []byte) (PatientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PatientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type != TypePatientMessage {
		return PatientMessage{}, ErrUnsupportedType
	}

	var msg PatientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return PatientMessage{}, err
	}
	if strings.TrimSpace(msg.Text) == "" {
		return PatientMessage{}, errors.New("invalid patient_message: empty text")
	}
	return msg, nil
}
