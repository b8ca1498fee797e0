package engine

import (
	"testing"

	"appforge/internal/models"
)

func TestDefaultDetectorNeverFlags(t *testing.T) {
	e := newTestEngine(t)

	e.ApplyRemoteEvent(componentCreate(t, "c1", "button", "Save"))

	if e.conflicts.len() != 0 {
		t.Fatalf("conflict queue populated by default detector")
	}
	if len(e.Project().Components) != 1 {
		t.Fatalf("event not applied")
	}
}

func TestFlaggedConflictAcceptedLastWriterWins(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyRemoteEvent(componentCreate(t, "c1", "button", "Save"))

	// Flag every update as a conflict; the default resolver accepts, so the
	// remote write still lands (last-writer-wins, no rollback).
	e.SetConflictDetector(func(ev models.SyncEvent, _ *models.Project) bool {
		return ev.Type == models.EventComponentUpdate
	})

	e.ApplyRemoteEvent(mustEvent(t, models.EventComponentUpdate, models.EntityUpdatePayload{
		ID:      "c1",
		Updates: map[string]any{"name": "Remote"},
	}))

	if got := e.Project().Components[0].Name; got != "Remote" {
		t.Fatalf("accepted conflict not applied: name=%q", got)
	}
	if e.conflicts.len() != 0 {
		t.Fatalf("conflict queue not drained: %d", e.conflicts.len())
	}
}

func TestRejectedConflictKeepsLocalState(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyRemoteEvent(componentCreate(t, "c1", "button", "Save"))

	e.SetConflictDetector(func(ev models.SyncEvent, _ *models.Project) bool {
		return ev.Type == models.EventComponentDelete
	})
	e.SetConflictResolver(func(models.SyncEvent, *models.Project) Resolution {
		return ResolutionReject
	})

	e.ApplyRemoteEvent(mustEvent(t, models.EventComponentDelete, models.DeletePayload{ID: "c1"}))

	if len(e.Project().Components) != 1 {
		t.Fatalf("rejected event was applied anyway")
	}
}

func TestConflictQueueDrainsFIFO(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyRemoteEvent(componentCreate(t, "c1", "button", "A"))

	e.SetConflictDetector(func(ev models.SyncEvent, _ *models.Project) bool {
		return ev.Type == models.EventComponentUpdate
	})

	// Two flagged updates in order; the second writer must win.
	e.ApplyRemoteEvent(mustEvent(t, models.EventComponentUpdate, models.EntityUpdatePayload{
		ID: "c1", Updates: map[string]any{"name": "B"},
	}))
	e.ApplyRemoteEvent(mustEvent(t, models.EventComponentUpdate, models.EntityUpdatePayload{
		ID: "c1", Updates: map[string]any{"name": "C"},
	}))

	if got := e.Project().Components[0].Name; got != "C" {
		t.Fatalf("FIFO order violated: name=%q, want C", got)
	}
}
