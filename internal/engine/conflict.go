package engine

import (
	"log"

	"appforge/internal/models"
)

// ConflictDetector reports whether a remote event collides with pending local
// state. This is a deliberate seam: the default detector never reports a
// conflict, which makes the effective policy last-writer-wins via
// unconditional accept. Real detection (vector clocks, per-field OT/CRDT) can
// be substituted here without any change to the surrounding protocol.
type ConflictDetector func(models.SyncEvent, *models.Project) bool

// ConflictResolver tags a flagged event with how the queue should treat it.
type ConflictResolver func(models.SyncEvent, *models.Project) Resolution

// Resolution is the action taken for one queued conflicting event.
type Resolution string

const (
	ResolutionAccept Resolution = "accept"
	ResolutionReject Resolution = "reject"
	ResolutionMerge  Resolution = "merge"
)

// NoConflictDetector is the stub detector: it flags nothing. Known gap, kept
// visible rather than hidden behind heuristics.
func NoConflictDetector(models.SyncEvent, *models.Project) bool { return false }

// AcceptAllResolver resolves every flagged event to accept: the remote event
// is applied without rollback of local optimistic state.
func AcceptAllResolver(models.SyncEvent, *models.Project) Resolution { return ResolutionAccept }

// SetConflictDetector swaps in a real detector. Call before wiring the engine
// to a transport.
func (e *Engine) SetConflictDetector(d ConflictDetector) {
	if d != nil {
		e.detector = d
	}
}

// SetConflictResolver swaps in a real resolver.
func (e *Engine) SetConflictResolver(r ConflictResolver) {
	if r != nil {
		e.resolver = r
	}
}

type conflictEntry struct {
	event      models.SyncEvent
	resolution Resolution
}

// conflictQueue holds flagged events in arrival order. It is drained whenever
// a conflict is flagged, strictly FIFO, under the engine mutex.
type conflictQueue struct {
	entries []conflictEntry
}

func (q *conflictQueue) push(entry conflictEntry) {
	q.entries = append(q.entries, entry)
}

func (q *conflictQueue) len() int { return len(q.entries) }

// drainConflictsLocked processes queued conflicts in FIFO order. Callers hold
// e.mu. Merge falls back to accept until a merging resolver exists; reject
// drops the event and keeps local state.
func (e *Engine) drainConflictsLocked() {
	for len(e.conflicts.entries) > 0 {
		entry := e.conflicts.entries[0]
		e.conflicts.entries = e.conflicts.entries[1:]

		switch entry.resolution {
		case ResolutionReject:
			log.Printf("sync engine: rejected conflicting %s event", entry.event.Type)
		case ResolutionAccept, ResolutionMerge:
			if err := e.applyLocked(entry.event); err != nil {
				e.reportError("resolve conflict: " + err.Error())
			}
		default:
			log.Printf("sync engine: unknown resolution %q, accepting", entry.resolution)
			if err := e.applyLocked(entry.event); err != nil {
				e.reportError("resolve conflict: " + err.Error())
			}
		}
	}
}
