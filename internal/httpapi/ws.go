package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/carelinehq/careline/internal/consult"
	"github.com/carelinehq/careline/internal/protocol"
)

// handleConsultationWS serves the live consultation stream. The client sends
// patient_message frames; each exchange is answered with the appended turns
// followed by a session_status frame. Writes happen on the read loop's
// goroutine, so frames for one exchange are never interleaved.
func (s *Server) handleConsultationWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if _, err := s.consults.Get(sessionID); err != nil {
		s.respondConsultError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.observeWS("inbound", "invalid")
			s.writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Retryable: true,
				Detail:    err.Error(),
			})
			continue
		}
		s.observeWS("inbound", string(protocol.TypePatientMessage))

		sess, err := s.consults.Continue(r.Context(), sessionID, msg.Text)
		if err != nil {
			retryable := errors.Is(err, consult.ErrEmptyMessage)
			s.writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      consultErrorCode(err),
				Retryable: retryable,
				Detail:    err.Error(),
			})
			if !retryable {
				return
			}
			continue
		}

		// One continue call appends exactly two turns: patient then agent.
		start := len(sess.Turns) - 2
		if start < 0 {
			start = 0
		}
		for _, turn := range sess.Turns[start:] {
			s.writeWS(conn, protocol.TurnEvent{
				Type:      protocol.TypeTurn,
				SessionID: sess.ID,
				Turn:      turn,
			})
		}
		s.writeWS(conn, protocol.SessionStatusEvent{
			Type:      protocol.TypeSessionStatus,
			SessionID: sess.ID,
			Status:    sess.Status,
		})

		if sess.Closed() {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return
	}
	switch m := msg.(type) {
	case protocol.TurnEvent:
		s.observeWS("outbound", string(m.Type))
	case protocol.SessionStatusEvent:
		s.observeWS("outbound", string(m.Type))
	case protocol.ErrorEvent:
		s.observeWS("outbound", string(m.Type))
	}
}

func (s *Server) observeWS(direction, messageType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, messageType).Inc()
	}
}

func consultErrorCode(err error) string {
	switch {
	case errors.Is(err, consult.ErrNotFound):
		return "session_not_found"
	case errors.Is(err, consult.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, consult.ErrEmptyMessage):
		return "empty_message"
	default:
		return "internal_error"
	}
}
