package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessagePatientMessage(t *testing.T) {
	raw := []byte(`{"type":"patient_message","text":"I have a headache"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.Text != "I have a headache" {
		t.Fatalf("Text = %q, want %q", msg.Text, "I have a headache")
	}
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	raw := []byte(`{"type":"patient_message","text":"   "}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	raw := []byte(`{"type":"turn","text":"hi"}`)
	_, err := ParseClientMessage(raw)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
