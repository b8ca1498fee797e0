package models

import (
	"encoding/json"
	"testing"
)

func TestCodeFileRecompute(t *testing.T) {
	f := CodeFile{
		Path:      "src/App.jsx",
		Content:   "line one\nline two",
		Size:      9999, // lying sender
		LineCount: 1,
	}
	f.Recompute()
	if f.Size != len(f.Content) {
		t.Fatalf("size: got %d, want %d", f.Size, len(f.Content))
	}
	if f.LineCount != 2 {
		t.Fatalf("line count: got %d, want 2", f.LineCount)
	}
}

func TestCloneIsolatesNestedState(t *testing.T) {
	p := NewProject("app")
	p.Components = []UIComponent{{ID: "c1", Props: map[string]any{"label": "Buy"}}}
	p.Screens = []Screen{{ID: "s1", ComponentIDs: []string{"c1"}}}

	clone := p.Clone()
	clone.Components[0].Props["label"] = "changed"
	clone.Screens[0].ComponentIDs[0] = "other"

	if p.Components[0].Props["label"] != "Buy" {
		t.Fatal("clone shares component props with original")
	}
	if p.Screens[0].ComponentIDs[0] != "c1" {
		t.Fatal("clone shares screen id slice with original")
	}
}

func TestNewProjectMarshalsEmptyCollections(t *testing.T) {
	data, err := json.Marshal(NewProject("app"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["components"]) != "[]" {
		t.Fatalf("components: %s", raw["components"])
	}
	if string(raw["screens"]) != "[]" {
		t.Fatalf("screens: %s", raw["screens"])
	}
}

func TestEventTypeValid(t *testing.T) {
	if !EventComponentCreate.Valid() {
		t.Fatal("component.create rejected")
	}
	if EventType("connection.update").Valid() {
		t.Fatal("connection.update accepted; edges are replaced, not mutated")
	}
	if EventType("").Valid() {
		t.Fatal("empty type accepted")
	}
}

func TestDecodeMessageRequiresType(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("message without type accepted")
	}
	if _, err := DecodeMessage([]byte(`not json`)); err == nil {
		t.Fatal("malformed message accepted")
	}

	msg, err := DecodeMessage([]byte(`{"type":"sync-event","requestId":"r1","payload":{"type":"component.create"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MsgSyncEvent || msg.RequestID != "r1" {
		t.Fatalf("envelope: %+v", msg)
	}
}

func TestSyncEventPayloadRoundTrip(t *testing.T) {
	ev, err := NewSyncEvent(EventComponentCreate, "alice:1", ComponentPayload{
		Component: UIComponent{ID: "c1", Type: "button", Name: "Buy"},
	})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	p, err := ev.DecodeComponent()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Component.ID != "c1" || p.Component.Type != "button" {
		t.Fatalf("payload: %+v", p.Component)
	}
	if ev.OriginID != "alice:1" {
		t.Fatalf("origin: %q", ev.OriginID)
	}
}
