package consult

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelinehq/careline/internal/gateway"
	"github.com/carelinehq/careline/internal/observability"
	"github.com/carelinehq/careline/internal/persona"
	"github.com/carelinehq/careline/internal/triage"
)

// fallbackReply is the user-facing text of a synthetic agent turn appended
// when the completion service fails. A transient outage must never surface as
// a raw error mid-conversation.
const fallbackReply = "I'm sorry, I'm having trouble responding right now. Please repeat that in a moment."

// startFailureReply is the synthetic opener for a session whose first gateway
// call failed. The session is handed back in the errored state but still
// carries a user-facing message.
const startFailureReply = "I'm sorry, I couldn't start your consultation. Please try again shortly."

// recordTimeout bounds the detached write-through persistence call.
const recordTimeout = 5 * time.Second

// Recorder is the optional write-through persistence hook. The orchestrator
// owns the live state; failures to record are logged, never surfaced.
type Recorder interface {
	SaveSession(ctx context.Context, s Session) error
}

// Policy bounds a session's lifetime. MaxTurns counts all turns (patient and
// agent); a continue call that reaches the bound completes the session.
type Policy struct {
	MaxTurns          int
	GatewayTimeout    time.Duration
	InactivityTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxTurns <= 0 {
		p.MaxTurns = 40
	}
	if p.GatewayTimeout <= 0 {
		p.GatewayTimeout = 30 * time.Second
	}
	if p.InactivityTimeout <= 0 {
		p.InactivityTimeout = 30 * time.Minute
	}
	return p
}

// Orchestrator drives consultations from start to termination. Each session
// is its own unit of concurrency: continue calls against one session are
// serialized by a per-session mutex, independent sessions run in parallel.
type Orchestrator struct {
	adapter    gateway.Adapter
	personas   *persona.Registry
	classifier *triage.Classifier
	recorder   Recorder
	metrics    *observability.Metrics
	policy     Policy

	mu       sync.RWMutex
	sessions map[string]*sessionState
	active   int
}

type sessionState struct {
	// mu enforces at most one in-flight gateway call per session and makes
	// the patient-turn/agent-turn append an atomic unit: readers also take it,
	// so a half-appended exchange is never observable.
	mu   sync.Mutex
	sess *Session
}

func NewOrchestrator(adapter gateway.Adapter, personas *persona.Registry, classifier *triage.Classifier, recorder Recorder, metrics *observability.Metrics, policy Policy) *Orchestrator {
	return &Orchestrator{
		adapter:    adapter,
		personas:   personas,
		classifier: classifier,
		recorder:   recorder,
		metrics:    metrics,
		policy:     policy.withDefaults(),
		sessions:   make(map[string]*sessionState),
	}
}

// Start creates a session for the given specialty and requests the opening
// agent turn. On gateway failure the returned session is errored but still
// holds a synthetic agent turn, so callers always have something to render.
func (o *Orchestrator) Start(ctx context.Context, specialty string) (*Session, error) {
	p, ok := o.personas.Get(specialty)
	if !ok {
		return nil, ErrUnknownSpecialty
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		Specialty:      p.ID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	reply, err := o.complete(ctx, p.SystemPrompt, nil)
	if err != nil {
		log.Printf("session %s: opening turn failed: %v", sess.ID, err)
		sess.Status = StatusErrored
		sess.Turns = append(sess.Turns, newAgentTurn(startFailureReply, triage.Verdict{}))
	} else {
		verdict := o.classify(reply, nil)
		sess.Turns = append(sess.Turns, newAgentTurn(reply.Content, verdict))
		if verdict.Refer {
			sess.Status = StatusEscalated
		}
	}

	st := &sessionState{sess: sess}
	o.mu.Lock()
	o.sessions[sess.ID] = st
	if sess.Status == StatusActive {
		o.active++
	}
	o.mu.Unlock()

	o.observeSessionEvent("started")
	o.observeActiveSessions()
	o.record(ctx, sess)
	return cloneSession(sess), nil
}

// Continue appends the patient turn, requests the next agent turn, and runs
// the safety classifier before the agent turn becomes visible. Escalation
// flips the session status in the same critical section as the append.
func (o *Orchestrator) Continue(ctx context.Context, sessionID, patientText string) (*Session, error) {
	patientText = strings.TrimSpace(patientText)
	if patientText == "" {
		return nil, ErrEmptyMessage
	}

	st, err := o.state(sessionID)
	if err != nil {
		return nil, err
	}
	p, ok := o.personas.Get(st.specialty())
	if !ok {
		// The specialty was validated at Start; a miss here means the
		// registry and the live session disagree.
		return nil, fmt.Errorf("no persona registered for specialty %q", st.specialty())
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.sess
	if sess.Closed() {
		return nil, ErrSessionClosed
	}

	patientTurn := Turn{
		ID:        uuid.NewString(),
		Role:      RolePatient,
		Content:   patientText,
		CreatedAt: time.Now().UTC(),
	}
	history := historyWith(sess.Turns, patientTurn)

	reply, err := o.complete(ctx, p.SystemPrompt, history)
	now := time.Now().UTC()
	var verdict triage.Verdict
	if err != nil {
		// Transient failure is not a safety trigger: degrade the turn, keep
		// the session active.
		log.Printf("session %s: completion failed, degrading turn: %v", sess.ID, err)
		sess.Turns = append(sess.Turns, patientTurn, newAgentTurn(fallbackReply, triage.Verdict{}))
		o.observeSessionEvent("turn_degraded")
	} else {
		verdict = o.classify(reply, historyUtterances(sess.Turns, patientTurn))
		sess.Turns = append(sess.Turns, patientTurn, newAgentTurn(reply.Content, verdict))
	}
	sess.LastActivityAt = now

	// The turn bound applies to degraded exchanges too.
	switch {
	case verdict.Refer:
		sess.Status = StatusEscalated
		o.sessionLeftActive()
		o.observeSessionEvent("escalated")
	case len(sess.Turns) >= o.policy.MaxTurns:
		sess.Status = StatusCompleted
		o.sessionLeftActive()
		o.observeSessionEvent("turn_limit_reached")
	case err == nil:
		o.observeSessionEvent("turn_completed")
	}

	o.record(ctx, sess)
	return cloneSession(sess), nil
}

// End completes a session explicitly. Ending a non-active session reports
// ErrSessionClosed so callers learn the session already terminated.
func (o *Orchestrator) End(ctx context.Context, sessionID string) (*Session, error) {
	st, err := o.state(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.sess
	if sess.Closed() {
		return nil, ErrSessionClosed
	}
	sess.Status = StatusCompleted
	sess.LastActivityAt = time.Now().UTC()

	o.sessionLeftActive()
	o.observeSessionEvent("ended")
	o.record(ctx, sess)
	return cloneSession(sess), nil
}

// Get returns a snapshot of a session.
func (o *Orchestrator) Get(sessionID string) (*Session, error) {
	st, err := o.state(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneSession(st.sess), nil
}

// ActiveCount reports the number of active sessions.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// StartJanitor completes idle active sessions in the background.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.expireIdle(ctx)
			}
		}
	}()
}

func (o *Orchestrator) expireIdle(ctx context.Context) {
	now := time.Now().UTC()

	o.mu.RLock()
	states := make([]*sessionState, 0, len(o.sessions))
	for _, st := range o.sessions {
		states = append(states, st)
	}
	o.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		sess := st.sess
		if sess.Status == StatusActive && now.Sub(sess.LastActivityAt) >= o.policy.InactivityTimeout {
			sess.Status = StatusCompleted
			sess.LastActivityAt = now
			o.sessionLeftActive()
			o.observeSessionEvent("expired")
			o.record(ctx, sess)
		}
		st.mu.Unlock()
	}
}

func (o *Orchestrator) state(sessionID string) (*sessionState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

func (st *sessionState) specialty() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sess.Specialty
}

func (o *Orchestrator) complete(ctx context.Context, system string, history []gateway.Message) (gateway.AgentReply, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.policy.GatewayTimeout)
	defer cancel()

	start := time.Now()
	reply, err := o.adapter.Complete(callCtx, gateway.CompletionRequest{System: system, History: history})
	o.observeGatewayCall(err, time.Since(start))
	return reply, err
}

func (o *Orchestrator) classify(reply gateway.AgentReply, history []triage.Utterance) triage.Verdict {
	ruleVerdict := o.classifier.Evaluate(reply.Content, history)
	return triage.Merge(ruleVerdict, reply.Referral, reply.ReferralReason)
}

func (o *Orchestrator) record(ctx context.Context, sess *Session) {
	if o.recorder == nil {
		return
	}
	// The write-through must outlive the request: a client that disconnects
	// right after the gateway returns must not lose the exchange from the
	// durable record.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.SaveSession(saveCtx, *cloneSession(sess)); err != nil {
		log.Printf("session %s: persist failed: %v", sess.ID, err)
	}
}

func (o *Orchestrator) observeSessionEvent(event string) {
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

// sessionLeftActive decrements the active counter after a terminal
// transition. Callers hold only the per-session mutex, never o.mu.
func (o *Orchestrator) sessionLeftActive() {
	o.mu.Lock()
	o.active--
	o.mu.Unlock()
	o.observeActiveSessions()
}

func (o *Orchestrator) observeActiveSessions() {
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.ActiveCount()))
	}
}

func (o *Orchestrator) observeGatewayCall(err error, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.metrics.GatewayCalls.WithLabelValues(result).Inc()
	o.metrics.GatewayLatency.Observe(elapsed.Seconds())
}

func newAgentTurn(content string, verdict triage.Verdict) Turn {
	return Turn{
		ID:             uuid.NewString(),
		Role:           RoleAgent,
		Content:        content,
		IsReferral:     verdict.Refer,
		ReferralReason: verdict.Reason,
		CreatedAt:      time.Now().UTC(),
	}
}

func historyWith(turns []Turn, next Turn) []gateway.Message {
	out := make([]gateway.Message, 0, len(turns)+1)
	for _, t := range turns {
		out = append(out, gateway.Message{Role: string(t.Role), Content: t.Content})
	}
	return append(out, gateway.Message{Role: string(next.Role), Content: next.Content})
}

func historyUtterances(turns []Turn, next Turn) []triage.Utterance {
	out := make([]triage.Utterance, 0, len(turns)+1)
	for _, t := range turns {
		out = append(out, triage.Utterance{FromPatient: t.Role == RolePatient, Text: t.Content})
	}
	return append(out, triage.Utterance{FromPatient: next.Role == RolePatient, Text: next.Content})
}

func cloneSession(s *Session) *Session {
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	return &c
}
