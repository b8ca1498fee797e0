package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// EditorMode identifies which view of the project a user is editing.
type EditorMode string

const (
	ModeDesign EditorMode = "design"
	ModeLogic  EditorMode = "logic"
	ModeCode   EditorMode = "code"
)

// Session represents an active WebSocket connection to a project room.
type Session struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	UserID       string     `json:"user_id"`
	Mode         EditorMode `json:"mode"`
	ConnectedAt  time.Time  `json:"connected_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
}

// PresenceState is ephemeral per-user state (view mode, cursor) shown to
// other users in the room. It is never part of the project document.
type PresenceState struct {
	UserID       string          `json:"id"`
	Mode         EditorMode      `json:"mode"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
	LastActivity time.Time       `json:"lastActivity"`
}

// CursorPosition is a live cursor location on the active view's canvas.
// ElementID is set when the cursor hovers a component or logic node.
type CursorPosition struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ElementID string  `json:"elementId,omitempty"`
}

// NewSession creates a session with a KSUID id. KSUIDs are time-ordered, so
// sorting sessions by id sorts them by connection time.
func NewSession(projectID, userID string, mode EditorMode) *Session {
	if mode == "" {
		mode = ModeDesign
	}
	return &Session{
		ID:           ksuid.New().String(),
		ProjectID:    projectID,
		UserID:       userID,
		Mode:         mode,
		ConnectedAt:  time.Now(),
		LastActiveAt: time.Now(),
	}
}
