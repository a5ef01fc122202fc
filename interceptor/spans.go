package interceptor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/acptraces/pkg/telemetry"
)

// Error taxonomy tokens recorded as error.type. JSON-RPC error responses
// use the dynamic "jsonrpc.{code}" form instead.
const (
	errAbandoned         = "abandoned"
	errOrphanToolCall    = "orphan_tool_call"
	errProtocolViolation = "protocol_violation"
	errUnknownToolCallID = "unknown_tool_call_id"
	errUnmatchedResponse = "unmatched_response"
	errToolOther         = "_OTHER"
)

// SpanManager translates classified frames into span lifecycle operations
// and histogram observations following the GenAI semantic conventions.
//
// Dispatch is pure CPU work over in-memory state: the exporter seam is
// non-blocking and no I/O happens under the lock, so the two pump
// goroutines can call Observe concurrently without delaying forwarding.
type SpanManager struct {
	mu            sync.Mutex
	exporter      telemetry.Exporter
	logger        *zap.Logger
	recordContent bool

	store *store

	// rootSpan is the acp_session span parenting lifecycle and prompt
	// spans. Started on the first initialize request, ended last.
	rootSpan telemetry.Span
}

func NewSpanManager(exporter telemetry.Exporter, logger *zap.Logger, recordContent bool) *SpanManager {
	return &SpanManager{
		exporter:      exporter,
		logger:        logger,
		recordContent: recordContent,
		store:         newStore(),
	}
}

// Observe dispatches one classified frame. Malformed frames are ignored;
// the pump has already arranged for their bytes to be forwarded.
func (m *SpanManager) Observe(direction Direction, msg Message) {
	if msg.Kind == KindMalformed {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	switch msg.Kind {
	case KindRequest:
		m.logger.Debug("request",
			zap.Stringer("direction", direction),
			zap.String("method", msg.Method),
			zap.String("id", msg.ID),
		)
		m.handleRequest(direction, msg, now)

	case KindNotification:
		m.logger.Debug("notification",
			zap.Stringer("direction", direction),
			zap.String("method", msg.Method),
		)
		m.handleNotification(msg, now)

	case KindSuccess, KindError:
		m.logger.Debug("response",
			zap.Stringer("direction", direction),
			zap.String("id", msg.ID),
			zap.Bool("error", msg.Kind == KindError),
		)
		m.handleResponse(direction, msg, now)
	}
}

func (m *SpanManager) handleRequest(direction Direction, msg Message, now time.Time) {
	switch msg.Family {
	case FamilySessionPrompt:
		m.startPrompt(direction, msg, now)

	case FamilyFs, FamilyTerminal, FamilySessionRequestPermission:
		m.startClientTool(direction, msg, now)

	case FamilyInitialize:
		if name, version := extractClientInfo(msg.Params); name != "" {
			m.store.clientName = name
			m.store.clientVersion = version
		}
		m.ensureRoot(now)
		m.startLifecycle(direction, msg, now)

	default:
		// authenticate, session/new, session/load and anything unrecognized
		// all get a generic RPC span ended by the paired response.
		m.startLifecycle(direction, msg, now)
	}
}

// ensureRoot starts the acp_session span parenting the whole conversation.
func (m *SpanManager) ensureRoot(now time.Time) {
	if m.rootSpan != nil {
		return
	}
	root := m.exporter.StartSpan("acp_session", telemetry.KindInternal, nil, now)
	root.SetAttribute("acp.method.name", "session")
	root.SetAttribute("network.transport", "pipe")
	m.rootSpan = root
}

func (m *SpanManager) startLifecycle(direction Direction, msg Message, now time.Time) {
	span := m.exporter.StartSpan(msg.Method, telemetry.KindInternal, m.rootSpan, now)
	span.SetAttribute("rpc.system", "jsonrpc")
	span.SetAttribute("rpc.method", msg.Method)
	span.SetAttribute("rpc.jsonrpc.request_id", msg.ID)
	span.SetAttribute("acp.method.name", msg.Method)
	span.SetAttribute("network.transport", "pipe")

	m.store.insertPending(direction, msg.ID, &pendingRequest{
		span:      span,
		method:    msg.Method,
		sessionID: extractSessionID(msg.Params),
		start:     now,
		kind:      pendingLifecycle,
	})
}

func (m *SpanManager) startPrompt(direction Direction, msg Message, now time.Time) {
	sessionID := extractSessionID(msg.Params)
	if sessionID == "" {
		sessionID = "unknown"
	}
	sess := m.store.session(sessionID)

	// At most one active prompt per session: a second session/prompt while
	// a turn is open is a protocol violation that closes the first turn.
	if sess.prompt != nil {
		sess.prompt.span.RecordError(errProtocolViolation, "session/prompt while a turn was active")
		sess.prompt.span.End(now)
		sess.prompt = nil
	}

	name := "invoke_agent"
	provider := "acp.unknown"
	if m.store.agentName != "" {
		name = "invoke_agent " + m.store.agentName
		provider = "acp." + m.store.agentName
	}

	span := m.exporter.StartSpan(name, telemetry.KindClient, m.rootSpan, now)
	span.SetAttribute("gen_ai.operation.name", "invoke_agent")
	span.SetAttribute("gen_ai.provider.name", provider)
	span.SetAttribute("gen_ai.conversation.id", sessionID)
	span.SetAttribute("acp.method.name", msg.Method)
	span.SetAttribute("jsonrpc.request.id", msg.ID)
	span.SetAttribute("network.transport", "pipe")
	if m.store.agentName != "" {
		span.SetAttribute("gen_ai.agent.name", m.store.agentName)
		span.SetAttribute("gen_ai.agent.id", m.store.agentName)
	}
	if m.store.agentVersion != "" {
		span.SetAttribute("acp.agent.version", m.store.agentVersion)
	}
	if m.store.clientName != "" {
		span.SetAttribute("acp.client.name", m.store.clientName)
	}
	if m.store.clientVersion != "" {
		span.SetAttribute("acp.client.version", m.store.clientVersion)
	}
	if m.store.hasProtocol {
		span.SetAttribute("acp.protocol.version", m.store.protocolVersion)
	}
	if m.recordContent {
		if input, ok := buildInputMessages(msg.Params); ok {
			span.SetAttribute("gen_ai.input.messages", input)
		}
	}

	prompt := &promptState{span: span, start: now}
	sess.prompt = prompt

	m.store.insertPending(direction, msg.ID, &pendingRequest{
		method:    msg.Method,
		sessionID: sessionID,
		start:     now,
		kind:      pendingPrompt,
		prompt:    prompt,
	})
}

// startClientTool handles agent-issued requests the editor answers:
// fs/*, terminal/* and session/request_permission.
func (m *SpanManager) startClientTool(direction Direction, msg Message, now time.Time) {
	sessionID := extractSessionID(msg.Params)

	var parent telemetry.Span
	if sessionID != "" {
		if sess := m.store.lookup(sessionID); sess != nil && sess.prompt != nil {
			parent = sess.prompt.span
		}
	}

	span := m.exporter.StartSpan("execute_tool "+msg.Method, telemetry.KindInternal, parent, now)
	span.SetAttribute("gen_ai.operation.name", "execute_tool")
	span.SetAttribute("gen_ai.tool.name", msg.Method)
	span.SetAttribute("gen_ai.tool.call.id", msg.ID)
	span.SetAttribute("gen_ai.tool.type", "function")
	span.SetAttribute("acp.method.name", msg.Method)
	span.SetAttribute("jsonrpc.request.id", msg.ID)
	span.SetAttribute("network.transport", "pipe")
	if sessionID != "" {
		span.SetAttribute("gen_ai.conversation.id", sessionID)
	}
	if parent == nil {
		span.RecordError(errOrphanToolCall, "tool request outside an active prompt turn")
	}
	if m.recordContent && len(msg.Params) > 0 {
		span.SetAttribute("gen_ai.tool.call.arguments", string(msg.Params))
	}

	m.store.insertPending(direction, msg.ID, &pendingRequest{
		span:      span,
		method:    msg.Method,
		sessionID: sessionID,
		start:     now,
		kind:      pendingTool,
	})
}

func (m *SpanManager) handleResponse(direction Direction, msg Message, now time.Time) {
	pending := m.store.takePending(direction, msg.ID)
	if pending == nil {
		// A response nothing is waiting for. Emit a zero-length marker span
		// so the violation is visible in the trace, then move on.
		span := m.exporter.StartSpan(errUnmatchedResponse, telemetry.KindInternal, m.rootSpan, now)
		span.SetAttribute("jsonrpc.request.id", msg.ID)
		span.SetAttribute("network.transport", "pipe")
		span.RecordError(errUnmatchedResponse, "response with no matching pending request")
		span.End(now)
		return
	}

	switch pending.kind {
	case pendingPrompt:
		m.endPrompt(pending, msg, now)
	case pendingTool:
		m.endClientTool(pending, msg, now)
	default:
		m.endLifecycle(pending, msg, now)
	}
}

func (m *SpanManager) endLifecycle(pending *pendingRequest, msg Message, now time.Time) {
	span := pending.span

	if msg.Kind == KindSuccess {
		switch pending.method {
		case "initialize":
			if name, version := extractAgentInfo(msg.Result); name != "" {
				m.store.agentName = name
				m.store.agentVersion = version
				span.SetAttribute("gen_ai.agent.name", name)
				span.SetAttribute("gen_ai.agent.id", name)
				if m.rootSpan != nil {
					m.rootSpan.SetAttribute("gen_ai.agent.name", name)
				}
			}
			if pv, ok := extractProtocolVersion(msg.Result); ok {
				m.store.protocolVersion = pv
				m.store.hasProtocol = true
				span.SetAttribute("acp.protocol.version", pv)
			}

		case "session/new":
			if sessionID := extractSessionID(msg.Result); sessionID != "" {
				m.store.session(sessionID)
			}
		}
	}

	if msg.Kind == KindError {
		m.recordRPCError(span, msg)
	}

	span.End(now)
}

func (m *SpanManager) endPrompt(pending *pendingRequest, msg Message, now time.Time) {
	prompt := pending.prompt
	sess := m.store.lookup(pending.sessionID)
	if prompt == nil || sess == nil || sess.prompt != prompt {
		// The turn this response belongs to was already force-closed as a
		// protocol violation; a newer turn may be active. Nothing to end.
		return
	}
	sess.prompt = nil

	span := prompt.span
	duration := now.Sub(prompt.start).Seconds()

	finishReason := ""
	if msg.Kind == KindSuccess {
		if reason := extractStopReason(msg.Result); reason != "" {
			finishReason = reason
			span.SetAttribute("gen_ai.response.finish_reasons", []string{reason})
		}
	}

	if m.recordContent && prompt.output.Len() > 0 {
		span.SetAttribute("gen_ai.output.messages", buildOutputMessages(prompt.output.String(), finishReason))
	}

	if !prompt.firstChunk.IsZero() {
		ttft := prompt.firstChunk.Sub(prompt.start).Seconds()
		span.SetAttribute("acp.time_to_first_token_ms", int64(ttft*1000))
		m.exporter.RecordHistogram(telemetry.MetricTimeToFirstToken, ttft, map[string]string{
			"gen_ai.operation.name": "invoke_agent",
		})
	}

	if msg.Kind == KindError {
		m.recordRPCError(span, msg)
	}

	span.End(now)
	m.exporter.RecordHistogram(telemetry.MetricOperationDuration, duration, map[string]string{
		"gen_ai.operation.name": "invoke_agent",
	})

	m.store.reap(pending.sessionID)
}

func (m *SpanManager) endClientTool(pending *pendingRequest, msg Message, now time.Time) {
	span := pending.span

	if msg.Kind == KindSuccess {
		if pending.method == "session/request_permission" {
			if outcome := extractPermissionOutcome(msg.Result); outcome != "" {
				span.SetAttribute("acp.permission.outcome", outcome)
			}
		}
		if m.recordContent && len(msg.Result) > 0 {
			span.SetAttribute("gen_ai.tool.call.result", string(msg.Result))
		}
	}

	if msg.Kind == KindError {
		m.recordRPCError(span, msg)
	}

	span.End(now)
}

// recordRPCError applies the JSON-RPC error mapping: error.type takes the
// "jsonrpc.{code}" form, the rpc.jsonrpc.* attributes carry the raw error,
// and the span status goes to Error.
func (m *SpanManager) recordRPCError(span telemetry.Span, msg Message) {
	span.SetAttribute("rpc.jsonrpc.error_code", msg.ErrCode)
	span.SetAttribute("rpc.jsonrpc.error_message", msg.ErrMessage)
	span.RecordError(fmt.Sprintf("jsonrpc.%d", msg.ErrCode), msg.ErrMessage)
}

func (m *SpanManager) handleNotification(msg Message, now time.Time) {
	if msg.Family != FamilySessionUpdate {
		// Unrecognized notifications still surface as instant RPC spans.
		span := m.exporter.StartSpan(msg.Method, telemetry.KindInternal, m.rootSpan, now)
		span.SetAttribute("rpc.system", "jsonrpc")
		span.SetAttribute("rpc.method", msg.Method)
		span.SetAttribute("acp.method.name", msg.Method)
		span.SetAttribute("network.transport", "pipe")
		span.End(now)
		return
	}

	sessionID, update, ok := extractUpdate(msg.Params)
	if !ok || sessionID == "" {
		return
	}

	switch update.Type {
	case "agent_message_chunk":
		sess := m.store.lookup(sessionID)
		if sess == nil || sess.prompt == nil {
			return
		}
		if sess.prompt.firstChunk.IsZero() {
			sess.prompt.firstChunk = now
		}
		sess.prompt.output.WriteString(update.ChunkText)

	case "tool_call":
		m.startAgentTool(sessionID, update, now)

	case "tool_call_update":
		m.updateAgentTool(sessionID, update, now)
	}
}

// startAgentTool opens an execute_tool span for an agent-announced tool
// call delivered via session/update.
func (m *SpanManager) startAgentTool(sessionID string, update updateView, now time.Time) {
	if update.ToolCallID == "" {
		return
	}

	title := update.Title
	if title == "" {
		title = "unknown tool"
	}
	kind := update.Kind
	if kind == "" {
		kind = "other"
	}

	sess := m.store.session(sessionID)

	var parent telemetry.Span
	if sess.prompt != nil {
		parent = sess.prompt.span
	}

	span := m.exporter.StartSpan("execute_tool "+title, telemetry.KindInternal, parent, now)
	span.SetAttribute("gen_ai.operation.name", "execute_tool")
	span.SetAttribute("gen_ai.tool.name", title)
	span.SetAttribute("gen_ai.tool.call.id", update.ToolCallID)
	span.SetAttribute("gen_ai.tool.type", mapToolKind(kind))
	span.SetAttribute("gen_ai.conversation.id", sessionID)
	span.SetAttribute("acp.method.name", "session/update")
	span.SetAttribute("acp.tool.kind", kind)
	span.SetAttribute("network.transport", "pipe")
	if len(update.Locations) > 0 {
		span.SetAttribute("acp.tool.locations", string(update.Locations))
	}
	if parent == nil {
		span.RecordError(errOrphanToolCall, "tool call outside an active prompt turn")
	}
	if m.recordContent && len(update.RawInput) > 0 {
		span.SetAttribute("gen_ai.tool.call.arguments", string(update.RawInput))
	}

	sess.tools[update.ToolCallID] = &toolState{
		span:  span,
		start: now,
		title: title,
		kind:  kind,
	}
}

func (m *SpanManager) updateAgentTool(sessionID string, update updateView, now time.Time) {
	if update.ToolCallID == "" {
		return
	}

	sess := m.store.lookup(sessionID)
	var tool *toolState
	if sess != nil {
		tool = sess.tools[update.ToolCallID]
	}

	terminal := update.Status == "completed" || update.Status == "failed"

	if tool == nil {
		if !terminal {
			return
		}
		// Terminal update for a call we never saw start: emit a marker span
		// so the trace shows the violation.
		span := m.exporter.StartSpan("execute_tool "+update.ToolCallID, telemetry.KindInternal, nil, now)
		span.SetAttribute("gen_ai.operation.name", "execute_tool")
		span.SetAttribute("gen_ai.tool.call.id", update.ToolCallID)
		span.SetAttribute("gen_ai.conversation.id", sessionID)
		span.SetAttribute("acp.method.name", "session/update")
		span.RecordError(errUnknownToolCallID, "tool_call_update for unknown toolCallId")
		span.End(now)
		return
	}

	if !terminal {
		// In-progress update: refresh the last-known fields.
		if update.Title != "" {
			tool.title = update.Title
		}
		if update.Kind != "" {
			tool.kind = update.Kind
		}
		return
	}

	span := tool.span
	if m.recordContent {
		switch {
		case len(update.RawOutput) > 0:
			span.SetAttribute("gen_ai.tool.call.result", string(update.RawOutput))
		case update.ContentText != "":
			span.SetAttribute("gen_ai.tool.call.result", update.ContentText)
		}
	}
	if update.Status == "failed" {
		errType := update.Error
		if errType == "" {
			errType = errToolOther
		}
		span.RecordError(errType, "tool call failed")
	}

	span.End(now)
	delete(sess.tools, update.ToolCallID)
	m.store.reap(sessionID)
}

// Shutdown ends every live span as abandoned and closes the root session
// span. Called once by the shutdown coordinator after the agent pump has
// stopped and the child has been reaped; the editor pump may still be
// blocked on a read at that point.
func (m *SpanManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for id, sess := range m.store.sessions {
		if sess.prompt != nil {
			sess.prompt.span.RecordError(errAbandoned, "session ended before the turn completed")
			sess.prompt.span.End(now)
			sess.prompt = nil
		}
		for _, tool := range sess.tools {
			tool.span.RecordError(errAbandoned, "session ended before the tool call completed")
			tool.span.End(now)
		}
		sess.tools = map[string]*toolState{}
		delete(m.store.sessions, id)
	}

	for direction := range m.store.pending {
		for id, pending := range m.store.pending[direction] {
			if pending.span != nil {
				pending.span.RecordError(errAbandoned, "process exited before the response")
				pending.span.End(now)
			}
			delete(m.store.pending[direction], id)
		}
	}

	if m.rootSpan != nil {
		m.rootSpan.End(now)
		m.rootSpan = nil
	}
}
