package interceptor

import (
	"encoding/json"
	"strings"
)

// Extractor helpers decode the few ACP payload fields the span manager
// consumes. They are deliberately tolerant: a missing or mistyped field
// yields a zero value, never an error, because classification must not
// depend on schema validity beyond the JSON-RPC envelope.

func extractSessionID(params json.RawMessage) string {
	var v struct {
		SessionID string `json:"sessionId"`
	}
	if json.Unmarshal(params, &v) != nil {
		return ""
	}
	return v.SessionID
}

type peerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func extractClientInfo(params json.RawMessage) (string, string) {
	var v struct {
		ClientInfo *peerInfo `json:"clientInfo"`
	}
	if json.Unmarshal(params, &v) != nil || v.ClientInfo == nil {
		return "", ""
	}
	return v.ClientInfo.Name, v.ClientInfo.Version
}

func extractAgentInfo(result json.RawMessage) (string, string) {
	var v struct {
		AgentInfo *peerInfo `json:"agentInfo"`
	}
	if json.Unmarshal(result, &v) != nil || v.AgentInfo == nil {
		return "", ""
	}
	return v.AgentInfo.Name, v.AgentInfo.Version
}

func extractProtocolVersion(result json.RawMessage) (int64, bool) {
	var v struct {
		ProtocolVersion *int64 `json:"protocolVersion"`
	}
	if json.Unmarshal(result, &v) != nil || v.ProtocolVersion == nil {
		return 0, false
	}
	return *v.ProtocolVersion, true
}

func extractStopReason(result json.RawMessage) string {
	var v struct {
		StopReason string `json:"stopReason"`
	}
	if json.Unmarshal(result, &v) != nil {
		return ""
	}
	return v.StopReason
}

func extractPermissionOutcome(result json.RawMessage) string {
	var v struct {
		Outcome struct {
			Outcome string `json:"outcome"`
		} `json:"outcome"`
	}
	if json.Unmarshal(result, &v) != nil {
		return ""
	}
	return v.Outcome.Outcome
}

// updateView is the decoded form of a session/update notification payload.
type updateView struct {
	Type       string
	ToolCallID string
	Title      string
	Kind       string
	Status     string
	ChunkText  string
	RawInput   json.RawMessage
	RawOutput  json.RawMessage
	Locations  json.RawMessage
	Error      string

	// ContentText is the concatenation of update.content[].content.text,
	// the fallback tool result when rawOutput is absent.
	ContentText string
}

func extractUpdate(params json.RawMessage) (string, updateView, bool) {
	var v struct {
		SessionID string `json:"sessionId"`
		Update    struct {
			SessionUpdate string          `json:"sessionUpdate"`
			Content       json.RawMessage `json:"content"`
			ToolCallID    string          `json:"toolCallId"`
			Title         string          `json:"title"`
			Kind          string          `json:"kind"`
			Status        string          `json:"status"`
			RawInput      json.RawMessage `json:"rawInput"`
			RawOutput     json.RawMessage `json:"rawOutput"`
			Locations     json.RawMessage `json:"locations"`
			Error         string          `json:"error"`
		} `json:"update"`
	}
	if json.Unmarshal(params, &v) != nil || v.Update.SessionUpdate == "" {
		return "", updateView{}, false
	}

	u := updateView{
		Type:       v.Update.SessionUpdate,
		ToolCallID: v.Update.ToolCallID,
		Title:      v.Update.Title,
		Kind:       v.Update.Kind,
		Status:     v.Update.Status,
		RawInput:   v.Update.RawInput,
		RawOutput:  v.Update.RawOutput,
		Locations:  v.Update.Locations,
		Error:      v.Update.Error,
	}

	switch u.Type {
	case "agent_message_chunk":
		var content struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(v.Update.Content, &content) == nil {
			u.ChunkText = content.Text
		}

	case "tool_call", "tool_call_update":
		var blocks []struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if json.Unmarshal(v.Update.Content, &blocks) == nil {
			var sb strings.Builder
			for _, b := range blocks {
				sb.WriteString(b.Content.Text)
			}
			u.ContentText = sb.String()
		}
	}

	return v.SessionID, u, true
}

// mapToolKind maps an ACP tool kind onto gen_ai.tool.type.
func mapToolKind(kind string) string {
	switch kind {
	case "read", "search", "fetch":
		return "datastore"
	default:
		// edit, delete, move, execute, think, other
		return "extension"
	}
}

// messagePart is one part of a gen_ai.input.messages / output.messages
// entry. Content is a pointer so a present-but-empty text stays "".
type messagePart struct {
	Type      string  `json:"type"`
	Content   *string `json:"content,omitempty"`
	Data      string  `json:"data,omitempty"`
	MediaType string  `json:"media_type,omitempty"`
}

type genAIMessage struct {
	Role         string        `json:"role"`
	Parts        []messagePart `json:"parts"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

func textPart(text string) messagePart {
	return messagePart{Type: "text", Content: &text}
}

// buildInputMessages flattens params.prompt[] into the gen_ai.input.messages
// JSON form: one user message whose parts mirror the ACP content blocks.
// Embedded resources and resource links have no native OTel part type and
// are flattened into text parts.
func buildInputMessages(params json.RawMessage) (string, bool) {
	var v struct {
		Prompt []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Data     string `json:"data"`
			MimeType string `json:"mimeType"`
			URI      string `json:"uri"`
			Resource *struct {
				Text string `json:"text"`
				URI  string `json:"uri"`
			} `json:"resource"`
		} `json:"prompt"`
	}
	if json.Unmarshal(params, &v) != nil || len(v.Prompt) == 0 {
		return "", false
	}

	parts := make([]messagePart, 0, len(v.Prompt))
	for _, block := range v.Prompt {
		switch block.Type {
		case "text":
			parts = append(parts, textPart(block.Text))
		case "image":
			parts = append(parts, messagePart{Type: "image", Data: block.Data, MediaType: block.MimeType})
		case "audio":
			parts = append(parts, messagePart{Type: "audio", Data: block.Data, MediaType: block.MimeType})
		case "resource":
			text := ""
			if block.Resource != nil {
				text = block.Resource.Text
			}
			parts = append(parts, textPart(text))
		case "resource_link":
			parts = append(parts, textPart(block.URI))
		}
	}
	if len(parts) == 0 {
		return "", false
	}

	data, err := json.Marshal([]genAIMessage{{Role: "user", Parts: parts}})
	if err != nil {
		return "", false
	}
	return string(data), true
}

// buildOutputMessages renders the accumulated streaming text as the
// gen_ai.output.messages JSON form.
func buildOutputMessages(accumulated, finishReason string) string {
	data, err := json.Marshal([]genAIMessage{{
		Role:         "assistant",
		Parts:        []messagePart{textPart(accumulated)},
		FinishReason: finishReason,
	}})
	if err != nil {
		return ""
	}
	return string(data)
}
