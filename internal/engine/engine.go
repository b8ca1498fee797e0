package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"appforge/internal/models"

	"github.com/google/uuid"
)

// ChangeKind is the mutation verb a view entry point passes in.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// LogicKind distinguishes the two entity families of the logic view.
type LogicKind string

const (
	LogicNode       LogicKind = "node"
	LogicConnection LogicKind = "connection"
)

// Engine owns one Project replica and translates local and remote mutations
// into and from SyncEvents. All mutation and event emission happens inside
// one mutex-guarded critical section: no other mutation can interleave
// between state change and event capture, which is what makes the emitted
// event the diff. There is no separate diff computation.
type Engine struct {
	mu      sync.Mutex
	project *models.Project

	originID string

	onProject []func(*models.Project)
	onEvent   []func(models.SyncEvent)
	onError   func(string)

	detector  ConflictDetector
	resolver  ConflictResolver
	conflicts conflictQueue
}

// New creates an engine owning the given project. originID identifies this
// replica in the events it emits.
func New(project *models.Project, originID string) *Engine {
	if project == nil {
		project = models.NewProject("untitled")
	}
	if originID == "" {
		originID = uuid.NewString()
	}
	return &Engine{
		project:  project,
		originID: originID,
		detector: NoConflictDetector,
		resolver: AcceptAllResolver,
	}
}

// OriginID returns this replica's identity.
func (e *Engine) OriginID() string { return e.originID }

// Project returns a deep-copy snapshot of the current model. Always
// synchronous, never partial; callers cannot mutate engine-owned state
// through it.
func (e *Engine) Project() *models.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.project.Clone()
}

// UpdateProject replaces the whole project reference. Used when a full
// snapshot arrives from the server: the snapshot replaces local state, it is
// never merged, which is what guarantees convergence after a reconnect.
func (e *Engine) UpdateProject(p *models.Project) {
	if p == nil {
		return
	}
	e.mu.Lock()
	e.project = p
	snapshot := e.project.Clone()
	e.mu.Unlock()

	e.notifyProject(snapshot)
}

// OnProjectUpdate registers a subscriber notified with a snapshot after every
// applied mutation. Not safe to call concurrently with mutation entry points;
// register subscribers before wiring the engine to a transport.
func (e *Engine) OnProjectUpdate(fn func(*models.Project)) {
	e.onProject = append(e.onProject, fn)
}

// OnEvent registers a subscriber for locally emitted events. The network
// broadcaster registers here: event emission is the only channel through
// which local mutations become visible outside the engine.
func (e *Engine) OnEvent(fn func(models.SyncEvent)) {
	e.onEvent = append(e.onEvent, fn)
}

// OnError registers the single error callback. All internal errors funnel to
// it as strings; the engine logs and continues rather than failing fast,
// because aborting a collaborative session costs more than a dropped update.
func (e *Engine) OnError(fn func(string)) {
	e.onError = fn
}

// SyncFromDesign applies a local mutation from the design view (components).
func (e *Engine) SyncFromDesign(change ChangeKind, payload any) error {
	t, err := eventTypeFor(change, "component")
	if err != nil {
		return err
	}
	return e.syncLocal(t, payload)
}

// SyncFromLogic applies a local mutation from the logic view. kind selects
// between nodes and connections; connections support create and delete only.
func (e *Engine) SyncFromLogic(change ChangeKind, kind LogicKind, payload any) error {
	var entity string
	switch kind {
	case LogicNode:
		entity = "node"
	case LogicConnection:
		entity = "connection"
	default:
		return fmt.Errorf("unknown logic entity %q", kind)
	}
	t, err := eventTypeFor(change, entity)
	if err != nil {
		return err
	}
	return e.syncLocal(t, payload)
}

// SyncFromCode applies a local mutation from the code view (code files).
func (e *Engine) SyncFromCode(change ChangeKind, payload any) error {
	t, err := eventTypeFor(change, "codefile")
	if err != nil {
		return err
	}
	return e.syncLocal(t, payload)
}

// SyncScreen applies a local screen mutation (design view page surfaces).
func (e *Engine) SyncScreen(change ChangeKind, payload any) error {
	t, err := eventTypeFor(change, "screen")
	if err != nil {
		return err
	}
	return e.syncLocal(t, payload)
}

// SyncSettings replaces the project settings.
func (e *Engine) SyncSettings(settings models.ProjectSettings) error {
	return e.syncLocal(models.EventSettingsUpdate, models.SettingsPayload{Settings: settings})
}

// syncLocal validates, mutates, stamps and emits in one critical section.
func (e *Engine) syncLocal(t models.EventType, payload any) error {
	ev, err := models.NewSyncEvent(t, e.originID, payload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	applyErr := e.applyLocked(ev)
	snapshot := e.project.Clone()
	e.mu.Unlock()

	if applyErr != nil {
		return applyErr
	}

	e.notifyProject(snapshot)
	for _, fn := range e.onEvent {
		fn(ev)
	}
	return nil
}

// ApplyRemoteEvent applies one event received from a peer. Unknown event
// types are logged and dropped so older builds tolerate newer peers. A
// handler failure is reported through the error callback and does not abort
// the session: the engine keeps running with whatever partial state resulted.
func (e *Engine) ApplyRemoteEvent(ev models.SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.reportError(fmt.Sprintf("apply %s: panic: %v", ev.Type, r))
		}
	}()

	e.mu.Lock()
	if e.detector(ev, e.project) {
		e.conflicts.push(conflictEntry{event: ev, resolution: e.resolver(ev, e.project)})
		e.drainConflictsLocked()
		snapshot := e.project.Clone()
		e.mu.Unlock()
		e.notifyProject(snapshot)
		return
	}
	err := e.applyLocked(ev)
	snapshot := e.project.Clone()
	e.mu.Unlock()

	if err != nil {
		e.reportError(fmt.Sprintf("apply %s: %v", ev.Type, err))
	}
	e.notifyProject(snapshot)
}

func (e *Engine) notifyProject(snapshot *models.Project) {
	for _, fn := range e.onProject {
		fn(snapshot)
	}
}

func (e *Engine) reportError(msg string) {
	log.Printf("⚠️  sync engine: %s", msg)
	if e.onError != nil {
		e.onError(msg)
	}
}

func eventTypeFor(change ChangeKind, entity string) (models.EventType, error) {
	t := models.EventType(entity + "." + string(change))
	if !t.Valid() {
		return "", fmt.Errorf("no %s event for change %q", entity, change)
	}
	return t, nil
}

// stamp returns the local apply time used for modified timestamps. Remote
// timestamps are never trusted: the applied time is always this replica's
// perception of now, which keeps per-entity timestamps monotonic.
func stamp() time.Time {
	return time.Now()
}
