package interceptor

import (
	"encoding/json"
	"strings"
)

// Direction identifies which side of the pipe a frame was read from.
type Direction int

const (
	EditorToAgent Direction = iota
	AgentToEditor
)

func (d Direction) String() string {
	if d == EditorToAgent {
		return "editor->agent"
	}
	return "agent->editor"
}

// Opposite returns the other direction. A response observed in one
// direction closes a request that was sent in the opposite one.
func (d Direction) Opposite() Direction {
	if d == EditorToAgent {
		return AgentToEditor
	}
	return EditorToAgent
}

// Kind is the JSON-RPC shape of a classified frame.
type Kind int

const (
	KindMalformed Kind = iota
	KindRequest
	KindNotification
	KindSuccess
	KindError
)

// Family tags the ACP method family for span-manager dispatch.
type Family int

const (
	FamilyOther Family = iota
	FamilyInitialize
	FamilyAuthenticate
	FamilySessionNew
	FamilySessionLoad
	FamilySessionPrompt
	FamilySessionUpdate
	FamilySessionRequestPermission
	FamilyFs
	FamilyTerminal
)

// Message is the classified view of a single frame. Raw payload fields stay
// as json.RawMessage; extractor helpers decode just the pieces the span
// manager needs. The frame bytes themselves are never touched.
type Message struct {
	Kind   Kind
	Family Family
	Method string

	// ID is the stringified JSON-RPC id ("" when absent). String ids are
	// unquoted so the same id matches between request and response.
	ID string

	Params json.RawMessage
	Result json.RawMessage

	ErrCode    int64
	ErrMessage string
}

type rpcError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcFrame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Classify parses a raw frame into a Message. Anything that is not a
// JSON-RPC request, notification or response comes back as KindMalformed;
// the caller forwards the bytes regardless.
func Classify(frame []byte) Message {
	var f rpcFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return Message{Kind: KindMalformed}
	}

	switch {
	case f.Method != "" && len(f.ID) > 0:
		return Message{
			Kind:   KindRequest,
			Family: methodFamily(f.Method),
			Method: f.Method,
			ID:     stringifyID(f.ID),
			Params: f.Params,
		}

	case f.Method != "":
		return Message{
			Kind:   KindNotification,
			Family: methodFamily(f.Method),
			Method: f.Method,
			Params: f.Params,
		}

	case len(f.ID) > 0 && f.Error != nil:
		return Message{
			Kind:       KindError,
			ID:         stringifyID(f.ID),
			ErrCode:    f.Error.Code,
			ErrMessage: f.Error.Message,
		}

	case len(f.ID) > 0 && f.Result != nil:
		return Message{
			Kind:   KindSuccess,
			ID:     stringifyID(f.ID),
			Result: f.Result,
		}

	default:
		return Message{Kind: KindMalformed}
	}
}

func methodFamily(method string) Family {
	switch method {
	case "initialize":
		return FamilyInitialize
	case "authenticate":
		return FamilyAuthenticate
	case "session/new":
		return FamilySessionNew
	case "session/load":
		return FamilySessionLoad
	case "session/prompt":
		return FamilySessionPrompt
	case "session/update":
		return FamilySessionUpdate
	case "session/request_permission":
		return FamilySessionRequestPermission
	}

	switch {
	case strings.HasPrefix(method, "fs/"):
		return FamilyFs
	case strings.HasPrefix(method, "terminal/"):
		return FamilyTerminal
	}

	return FamilyOther
}

// stringifyID renders a JSON-RPC id for use as a map key and span
// attribute. String ids are unquoted; numbers keep their JSON text.
func stringifyID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
