package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names every message in the bidirectional sync protocol.
type MessageType string

const (
	// Client → server
	MsgJoinProject   MessageType = "join-project"
	MsgChangeMode    MessageType = "change-mode"
	MsgCursorUpdate  MessageType = "cursor-update"
	MsgSaveProject   MessageType = "save-project"
	MsgExportProject MessageType = "export-project"
	MsgAIRequest     MessageType = "ai-request"

	// Server → client
	MsgProjectState    MessageType = "project-state"
	MsgUserJoined      MessageType = "user-joined"
	MsgUserLeft        MessageType = "user-left"
	MsgUserModeChanged MessageType = "user-mode-changed"
	MsgActiveUsers     MessageType = "active-users"
	MsgUserCursor      MessageType = "user-cursor"
	MsgProjectSaved    MessageType = "project-saved"
	MsgSaveError       MessageType = "save-error"
	MsgProjectExported MessageType = "project-exported"
	MsgExportError     MessageType = "export-error"
	MsgAIResponse      MessageType = "ai-response"
	MsgAIError         MessageType = "ai-error"
	MsgError           MessageType = "error"

	// Both directions
	MsgSyncEvent MessageType = "sync-event"
)

// Message is the wire envelope for every protocol message. RequestID carries
// the correlation id for request/response pairs (save, export, AI); it is
// empty on fire-and-forget messages.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope around an encoded payload.
func NewMessage(t MessageType, requestID string, payload any) (*Message, error) {
	msg := &Message{Type: t, RequestID: requestID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Encode renders the envelope as wire bytes.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// DecodeMessage parses wire bytes into an envelope.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &m, nil
}

// DecodePayload unmarshals the payload into dst.
func (m *Message) DecodePayload(dst any) error {
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Payload shapes for the message catalogue.

// JoinProjectPayload enters a project's broadcast room.
type JoinProjectPayload struct {
	ProjectID string     `json:"projectId"`
	UserID    string     `json:"userId"`
	Mode      EditorMode `json:"mode"`
}

// UserJoinedPayload announces a new room member.
type UserJoinedPayload struct {
	UserID string     `json:"userId"`
	Mode   EditorMode `json:"mode"`
}

// UserLeftPayload announces a departed room member.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// ChangeModePayload announces a local view switch.
type ChangeModePayload struct {
	Mode EditorMode `json:"mode"`
}

// UserModeChangedPayload relays another user's view switch.
type UserModeChangedPayload struct {
	UserID string     `json:"userId"`
	Mode   EditorMode `json:"mode"`
}

// CursorUpdatePayload is a live cursor report from a client.
type CursorUpdatePayload struct {
	Position CursorPosition `json:"position"`
	Mode     EditorMode     `json:"mode"`
}

// UserCursorPayload relays another user's cursor.
type UserCursorPayload struct {
	UserID   string         `json:"userId"`
	Position CursorPosition `json:"position"`
	Mode     EditorMode     `json:"mode"`
}

// ProjectSavedPayload acknowledges a durable save.
type ProjectSavedPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ExportFormat selects the export artifact kind.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportZip  ExportFormat = "zip"
	ExportCode ExportFormat = "code"
)

// ExportProjectPayload requests an export artifact.
type ExportProjectPayload struct {
	Format ExportFormat `json:"format"`
}

// ProjectExportedPayload delivers a finished export. Data carries the
// artifact for json and zip (zip is base64 via encoding/json's []byte rule);
// Files carries the per-file listing for code exports.
type ProjectExportedPayload struct {
	Format   ExportFormat `json:"type"`
	Filename string       `json:"filename"`
	Data     []byte       `json:"data,omitempty"`
	Files    []CodeFile   `json:"files,omitempty"`
}

// AIRequestPayload delegates a prompt to the AI collaborator.
type AIRequestPayload struct {
	Type    string `json:"type"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// AIResponsePayload returns an AI result. Component is set when the server
// auto-applied the suggestion as a component.create.
type AIResponsePayload struct {
	Type      string       `json:"type"`
	Text      string       `json:"text,omitempty"`
	Component *UIComponent `json:"component,omitempty"`
}

// ErrorPayload carries a failure string for error, save-error, export-error
// and ai-error messages. There is no structured error-code taxonomy: the
// session favors log-and-continue over fail-fast.
type ErrorPayload struct {
	Message string `json:"message"`
}
