package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is a closed enumeration of every mutation the sync protocol can
// carry. Dispatching on it with a switch gives exhaustive handling instead of
// string-keyed listener registration, so a new event kind that slips past a
// handler shows up in review, not in production.
type EventType string

const (
	EventComponentCreate EventType = "component.create"
	EventComponentUpdate EventType = "component.update"
	EventComponentDelete EventType = "component.delete"

	EventNodeCreate EventType = "node.create"
	EventNodeUpdate EventType = "node.update"
	EventNodeDelete EventType = "node.delete"

	// Connections are created and deleted, never mutated in place: the editor
	// replaces an edge rather than rewiring it.
	EventConnectionCreate EventType = "connection.create"
	EventConnectionDelete EventType = "connection.delete"

	EventCodeFileCreate EventType = "codefile.create"
	EventCodeFileUpdate EventType = "codefile.update"
	EventCodeFileDelete EventType = "codefile.delete"

	EventScreenCreate EventType = "screen.create"
	EventScreenUpdate EventType = "screen.update"
	EventScreenDelete EventType = "screen.delete"

	EventSettingsUpdate EventType = "settings.update"
)

// Valid reports whether t is a known event type. Unknown types are logged and
// dropped by the engine so older builds never crash on newer event kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventComponentCreate, EventComponentUpdate, EventComponentDelete,
		EventNodeCreate, EventNodeUpdate, EventNodeDelete,
		EventConnectionCreate, EventConnectionDelete,
		EventCodeFileCreate, EventCodeFileUpdate, EventCodeFileDelete,
		EventScreenCreate, EventScreenUpdate, EventScreenDelete,
		EventSettingsUpdate:
		return true
	}
	return false
}

// SyncEvent is an immutable record of one applied mutation, broadcast to
// peers. The Type tag fully determines how Data is structured and applied.
// Events are consumed exactly once by each remote engine and never persisted
// as a log: only current model state is durable.
type SyncEvent struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	OriginID  string          `json:"originId"`
}

// NewSyncEvent captures a mutation payload at the moment it is applied.
func NewSyncEvent(t EventType, originID string, payload any) (SyncEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SyncEvent{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return SyncEvent{
		Type:      t,
		Data:      data,
		Timestamp: time.Now(),
		OriginID:  originID,
	}, nil
}

// Typed payloads, one per event family. Each is decoded exactly once at the
// transport boundary; nothing downstream touches raw JSON.

// ComponentPayload carries a full component for create events.
type ComponentPayload struct {
	Component UIComponent `json:"component"`
}

// NodePayload carries a full logic node for create events.
type NodePayload struct {
	Node LogicNode `json:"node"`
}

// ConnectionPayload carries a full connection for create events.
type ConnectionPayload struct {
	Connection Connection `json:"connection"`
}

// ScreenPayload carries a full screen for create events.
type ScreenPayload struct {
	Screen Screen `json:"screen"`
}

// CodeFilePayload carries a full code file for create and update events.
// Derived fields inside are recomputed by the receiver, never trusted.
type CodeFilePayload struct {
	File CodeFile `json:"file"`
}

// EntityUpdatePayload carries a shallow field merge for an existing entity.
type EntityUpdatePayload struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
}

// DeletePayload identifies the entity to remove. For code files the id is
// the file path.
type DeletePayload struct {
	ID string `json:"id"`
}

// SettingsPayload carries replacement project settings.
type SettingsPayload struct {
	Settings ProjectSettings `json:"settings"`
}

func (e SyncEvent) DecodeComponent() (ComponentPayload, error) {
	var p ComponentPayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeNode() (NodePayload, error) {
	var p NodePayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeConnection() (ConnectionPayload, error) {
	var p ConnectionPayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeScreen() (ScreenPayload, error) {
	var p ScreenPayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeCodeFile() (CodeFilePayload, error) {
	var p CodeFilePayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeUpdate() (EntityUpdatePayload, error) {
	var p EntityUpdatePayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeDelete() (DeletePayload, error) {
	var p DeletePayload
	return p, e.decode(&p)
}

func (e SyncEvent) DecodeSettings() (SettingsPayload, error) {
	var p SettingsPayload
	return p, e.decode(&p)
}

func (e SyncEvent) decode(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
