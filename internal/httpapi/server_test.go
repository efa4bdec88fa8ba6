package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/consult"
	"github.com/carelinehq/careline/internal/gateway"
	"github.com/carelinehq/careline/internal/intake"
	"github.com/carelinehq/careline/internal/persona"
	"github.com/carelinehq/careline/internal/speech"
	"github.com/carelinehq/careline/internal/store"
	"github.com/carelinehq/careline/internal/triage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	adapter := gateway.NewMockAdapter()
	personas := persona.NewRegistry()
	orch := consult.NewOrchestrator(adapter, personas, triage.NewClassifier(), store.NewInMemoryStore(), nil, consult.Policy{})
	summaries := intake.NewService(adapter, personas, time.Second)

	cfg := config.Config{AllowAnyOrigin: true}
	srv := httptest.NewServer(New(cfg, orch, summaries, speech.NewNoopSynthesizer(), nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) consult.Session {
	t.Helper()
	defer resp.Body.Close()
	var sess consult.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}

func TestConsultationLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/consultations", `{"specialty":"general-practice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	sess := decodeSession(t, resp)
	if sess.ID == "" || sess.Status != consult.StatusActive {
		t.Fatalf("unexpected session after start: %+v", sess)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].Role != consult.RoleAgent {
		t.Fatalf("start must produce exactly one agent opener, got %+v", sess.Turns)
	}

	resp = postJSON(t, srv.URL+"/v1/consultations/"+sess.ID+"/messages", `{"text":"I have a mild headache"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("message status = %d", resp.StatusCode)
	}
	sess = decodeSession(t, resp)
	if len(sess.Turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(sess.Turns))
	}
	if sess.Turns[1].Role != consult.RolePatient || sess.Turns[2].Role != consult.RoleAgent {
		t.Fatalf("exchange must append patient then agent: %+v", sess.Turns[1:])
	}
	if sess.Status != consult.StatusActive {
		t.Fatalf("status = %s, want active", sess.Status)
	}

	resp = postJSON(t, srv.URL+"/v1/consultations/"+sess.ID+"/end", ``)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", resp.StatusCode)
	}
	sess = decodeSession(t, resp)
	if sess.Status != consult.StatusCompleted {
		t.Fatalf("status after end = %s, want completed", sess.Status)
	}

	resp = postJSON(t, srv.URL+"/v1/consultations/"+sess.ID+"/messages", `{"text":"one more thing"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("message after end status = %d, want 409", resp.StatusCode)
	}
}

func TestConsultationEscalatesOnEmergencyLanguage(t *testing.T) {
	srv := newTestServer(t)

	sess := decodeSession(t, postJSON(t, srv.URL+"/v1/consultations", `{}`))

	resp := postJSON(t, srv.URL+"/v1/consultations/"+sess.ID+"/messages", `{"text":"I am having chest pain right now"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("message status = %d", resp.StatusCode)
	}
	sess = decodeSession(t, resp)
	if sess.Status != consult.StatusEscalated {
		t.Fatalf("status = %s, want escalated", sess.Status)
	}
	last := sess.Turns[len(sess.Turns)-1]
	if !last.IsReferral || last.ReferralReason == "" {
		t.Fatalf("final agent turn must carry the referral flag: %+v", last)
	}
}

func TestConsultationErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/consultations", `{"specialty":"astrology"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown specialty status = %d, want 400", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/v1/consultations/no-such-session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}

	sess := decodeSession(t, postJSON(t, srv.URL+"/v1/consultations", `{}`))
	resp = postJSON(t, srv.URL+"/v1/consultations/"+sess.ID+"/messages", `{"text":"   "}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", resp.StatusCode)
	}
}

func TestIntakeEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/intake", `{"patient_name":"Alex","chief_complaint":"knee pain","symptoms":"swelling"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("intake status = %d", resp.StatusCode)
	}
	var summary gateway.ClinicalSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	resp.Body.Close()
	if summary.Summary == "" || summary.NextSteps == "" {
		t.Fatalf("summary incomplete: %+v", summary)
	}

	resp = postJSON(t, srv.URL+"/v1/intake", `{"patient_name":"Alex"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing field status = %d, want 400", resp.StatusCode)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "missing_field" {
		t.Fatalf("code = %q, want missing_field", errResp.Code)
	}
}

func TestPostOpEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/postop", `{"patient_name":"Alex","procedure":"knee arthroscopy","pain_level":"3/10"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("postop status = %d", resp.StatusCode)
	}
}

func TestSpeechDegradesWithoutProvider(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/speech", `{"text":"hello"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("speech status = %d, want 204", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/speech", `{"text":"  "}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty speech text status = %d, want 400", resp.StatusCode)
	}
}

func TestConsultationWebsocketStream(t *testing.T) {
	srv := newTestServer(t)

	sess := decodeSession(t, postJSON(t, srv.URL+"/v1/consultations", `{}`))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/consultations/" + sess.ID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "patient_message", "text": "I twisted my ankle"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		typ, _ := frame["type"].(string)
		types = append(types, typ)
	}
	want := []string{"turn", "turn", "session_status"}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("frame types = %v, want %v", types, want)
		}
	}
}

func TestWebsocketRejectsInvalidFrame(t *testing.T) {
	srv := newTestServer(t)

	sess := decodeSession(t, postJSON(t, srv.URL+"/v1/consultations", `{}`))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/consultations/" + sess.ID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ, _ := frame["type"].(string); typ != "error_event" {
		t.Fatalf("frame type = %q, want error_event", typ)
	}
	if retryable, _ := frame["retryable"].(bool); !retryable {
		t.Fatalf("invalid frames must be reported as retryable")
	}
}
