package interceptor

import (
	"strings"
	"time"

	"github.com/papercomputeco/acptraces/pkg/telemetry"
)

// pendingKind classifies an in-flight request so the response path knows
// which dispatch rules apply.
type pendingKind int

const (
	pendingLifecycle pendingKind = iota
	pendingPrompt
	pendingTool
)

// pendingRequest is an in-flight JSON-RPC request whose response will end a
// span. The prompt entry carries no span of its own; the prompt span lives
// on the session so streaming updates can reach it.
type pendingRequest struct {
	span      telemetry.Span
	method    string
	sessionID string
	start     time.Time
	kind      pendingKind

	// prompt points at the turn this request opened, so a late response
	// cannot close a newer turn that replaced it.
	prompt *promptState
}

// promptState tracks one active prompt turn.
type promptState struct {
	span       telemetry.Span
	start      time.Time
	firstChunk time.Time
	output     strings.Builder
}

// toolState tracks one in-flight agent-announced tool call.
type toolState struct {
	span  telemetry.Span
	start time.Time
	title string
	kind  string
}

// sessionState is the per-conversation table: the active prompt and the
// tool calls announced through session/update.
type sessionState struct {
	id     string
	prompt *promptState
	tools  map[string]*toolState
}

// store is the process-wide observation state. All access happens inside a
// SpanManager dispatch, under its mutex; nothing here does I/O.
//
// Pending requests are keyed per originating direction: JSON-RPC id
// namespaces are per-sender, so an editor request id 7 and an agent request
// id 7 can be in flight at once without colliding.
type store struct {
	agentName       string
	agentVersion    string
	clientName      string
	clientVersion   string
	protocolVersion int64
	hasProtocol     bool

	sessions map[string]*sessionState
	pending  [2]map[string]*pendingRequest
}

func newStore() *store {
	return &store{
		sessions: map[string]*sessionState{},
		pending: [2]map[string]*pendingRequest{
			{},
			{},
		},
	}
}

// session returns the state for the given id, creating it on first sight.
func (s *store) session(id string) *sessionState {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &sessionState{id: id, tools: map[string]*toolState{}}
	s.sessions[id] = sess
	return sess
}

// lookup returns the state for the given id without creating it.
func (s *store) lookup(id string) *sessionState {
	return s.sessions[id]
}

// reap drops a session once its turn has completed and no tool spans
// remain. Global agent/client identity is unaffected.
func (s *store) reap(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.prompt == nil && len(sess.tools) == 0 {
		delete(s.sessions, id)
	}
}

func (s *store) insertPending(from Direction, id string, p *pendingRequest) {
	s.pending[from][id] = p
}

// takePending removes and returns the pending request that the response
// with the given id closes. responseFrom is the direction the response was
// observed in; the request necessarily travelled the opposite way.
func (s *store) takePending(responseFrom Direction, id string) *pendingRequest {
	from := responseFrom.Opposite()
	p, ok := s.pending[from][id]
	if !ok {
		return nil
	}
	delete(s.pending[from], id)
	return p
}
