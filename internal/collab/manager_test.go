package collab

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"appforge/internal/engine"
	"appforge/internal/models"
)

// fakeStore is an in-memory ProjectStore.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]*models.Project
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]*models.Project)}
}

func (f *fakeStore) Save(ctx context.Context, project *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[project.ID] = project.Clone()
	return nil
}

func (f *fakeStore) Load(ctx context.Context, projectID string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.saved[projectID]
	if !ok {
		return nil, fmt.Errorf("project not found")
	}
	return p.Clone(), nil
}

func (f *fakeStore) get(projectID string) *models.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.saved[projectID]; ok {
		return p.Clone()
	}
	return nil
}

// fakeExporter resolves every job synchronously.
type fakeExporter struct{}

func (fakeExporter) Submit(projectID string, project *models.Project, format models.ExportFormat,
	done func(*models.ProjectExportedPayload, error)) error {
	done(&models.ProjectExportedPayload{
		Format:   format,
		Filename: "fake-export",
		Data:     []byte("{}"),
	}, nil)
	return nil
}

// captureExporter holds the completion callback so tests can fire it at a
// chosen moment.
type captureExporter struct {
	mu   sync.Mutex
	done func(*models.ProjectExportedPayload, error)
}

func (e *captureExporter) Submit(projectID string, project *models.Project, format models.ExportFormat,
	done func(*models.ProjectExportedPayload, error)) error {
	e.mu.Lock()
	e.done = done
	e.mu.Unlock()
	return nil
}

func (e *captureExporter) fire(result *models.ProjectExportedPayload, err error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	done(result, err)
}

// fakeSuggester answers every request with one fixed component.
type fakeSuggester struct {
	component *models.UIComponent
}

func (f *fakeSuggester) Suggest(ctx context.Context, project *models.Project, req models.AIRequestPayload) (*models.AIResponsePayload, error) {
	return &models.AIResponsePayload{Type: "component", Component: f.component}, nil
}

func (f *fakeSuggester) IndexComponent(projectID string, component models.UIComponent) {}

func newTestManager(t *testing.T, store ProjectStore, exporter Exporter, suggester Suggester) *RoomManager {
	t.Helper()
	m := NewRoomManager(store, exporter, suggester)
	m.Start()
	t.Cleanup(m.Shutdown)
	return m
}

// newTestSession builds a session without a network connection. Outbound
// messages land on Send and are read back with recv.
func newTestSession(m *RoomManager, userID string) *Session {
	return &Session{
		Session: models.NewSession("", userID, models.ModeDesign),
		Send:    make(chan []byte, 64),
		Manager: m,
	}
}

func join(t *testing.T, m *RoomManager, s *Session, projectID string) {
	t.Helper()
	msg, err := models.NewMessage(models.MsgJoinProject, "", models.JoinProjectPayload{
		ProjectID: projectID,
		UserID:    s.UserID,
		Mode:      s.Mode,
	})
	if err != nil {
		t.Fatalf("join message: %v", err)
	}
	m.handleMessage(context.Background(), s, msg)
}

// recv waits for the next message of the wanted type, skipping others.
func recv(t *testing.T, s *Session, want models.MessageType) *models.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-s.Send:
			if !ok {
				t.Fatalf("send channel closed while waiting for %s", want)
			}
			msg, err := models.DecodeMessage(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// expectSilence asserts no message of the given type arrives.
func expectSilence(t *testing.T, s *Session, unwanted models.MessageType) {
	t.Helper()
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case data, ok := <-s.Send:
			if !ok {
				return
			}
			msg, err := models.DecodeMessage(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type == unwanted {
				t.Fatalf("received %s, wanted silence", unwanted)
			}
		case <-deadline:
			return
		}
	}
}

func syncEventMessage(t *testing.T, eventType models.EventType, originID string, payload any) *models.Message {
	t.Helper()
	ev, err := models.NewSyncEvent(eventType, originID, payload)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	msg, err := models.NewMessage(models.MsgSyncEvent, "", ev)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	return msg
}

func serverProject(t *testing.T, m *RoomManager, projectID string) *models.Project {
	t.Helper()
	m.mu.RLock()
	r := m.rooms[projectID]
	m.mu.RUnlock()
	if r == nil {
		t.Fatalf("room %s not open", projectID)
	}
	return r.engine.Project()
}

func TestJoinDeliversSnapshotAndRoster(t *testing.T) {
	store := newFakeStore()
	seed := models.NewProject("seeded")
	seed.ID = "p1"
	seed.Components = []models.UIComponent{{ID: "c1", Type: "button", Name: "Buy"}}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := newTestManager(t, store, nil, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")

	state := recv(t, s, models.MsgProjectState)
	var got models.Project
	if err := state.DecodePayload(&got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(got.Components) != 1 || got.Components[0].ID != "c1" {
		t.Fatalf("snapshot not hydrated from store: %+v", got.Components)
	}

	roster := recv(t, s, models.MsgActiveUsers)
	var users []models.PresenceState
	if err := roster.DecodePayload(&users); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "alice" {
		t.Fatalf("roster: %+v", users)
	}
}

func TestJoinUnknownProjectStartsEmpty(t *testing.T) {
	m := newTestManager(t, newFakeStore(), nil, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "brand-new")

	state := recv(t, s, models.MsgProjectState)
	var got models.Project
	if err := state.DecodePayload(&got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.ID != "brand-new" || len(got.Components) != 0 {
		t.Fatalf("expected empty project, got %+v", got)
	}
}

func TestSyncEventRelayedToPeersNotSender(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	a := newTestSession(m, "alice")
	b := newTestSession(m, "bob")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)
	join(t, m, b, "p1")
	recv(t, b, models.MsgActiveUsers)
	recv(t, a, models.MsgUserJoined)

	msg := syncEventMessage(t, models.EventComponentCreate, "alice:1", models.ComponentPayload{
		Component: models.UIComponent{ID: "c1", Type: "button", Name: "Buy"},
	})
	m.handleMessage(context.Background(), a, msg)

	relayed := recv(t, b, models.MsgSyncEvent)
	var ev models.SyncEvent
	if err := relayed.DecodePayload(&ev); err != nil {
		t.Fatalf("decode relayed event: %v", err)
	}
	if ev.Type != models.EventComponentCreate || ev.OriginID != "alice:1" {
		t.Fatalf("relayed event: %+v", ev)
	}

	expectSilence(t, a, models.MsgSyncEvent)

	p := serverProject(t, m, "p1")
	if len(p.Components) != 1 || p.Components[0].ID != "c1" {
		t.Fatalf("server engine did not apply event: %+v", p.Components)
	}
}

// A second client that applies the relayed stream converges on the same
// graph, including the cascade from deleting a connected node.
func TestRelayedCascadeConvergesOnPeer(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	a := newTestSession(m, "alice")
	b := newTestSession(m, "bob")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)
	join(t, m, b, "p1")

	state := recv(t, b, models.MsgProjectState)
	var snapshot models.Project
	if err := state.DecodePayload(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	peer := engine.New(&snapshot, "bob:1")

	send := func(eventType models.EventType, payload any) {
		m.handleMessage(context.Background(), a, syncEventMessage(t, eventType, "alice:1", payload))
	}
	send(models.EventNodeCreate, models.NodePayload{Node: models.LogicNode{ID: "n1", Type: "trigger"}})
	send(models.EventNodeCreate, models.NodePayload{Node: models.LogicNode{ID: "n2", Type: "action"}})
	send(models.EventConnectionCreate, models.ConnectionPayload{Connection: models.Connection{
		ID: "e1", FromNodeID: "n1", ToNodeID: "n2",
	}})
	send(models.EventNodeDelete, models.DeletePayload{ID: "n1"})

	for i := 0; i < 4; i++ {
		relayed := recv(t, b, models.MsgSyncEvent)
		var ev models.SyncEvent
		if err := relayed.DecodePayload(&ev); err != nil {
			t.Fatalf("decode relayed event: %v", err)
		}
		peer.ApplyRemoteEvent(ev)
	}

	got := peer.Project()
	want := serverProject(t, m, "p1")
	if len(got.LogicGraph.Nodes) != 1 || got.LogicGraph.Nodes[0].ID != "n2" {
		t.Fatalf("peer nodes: %+v", got.LogicGraph.Nodes)
	}
	if len(got.LogicGraph.Connections) != 0 {
		t.Fatalf("peer kept dangling connection: %+v", got.LogicGraph.Connections)
	}
	if len(want.LogicGraph.Nodes) != 1 || len(want.LogicGraph.Connections) != 0 {
		t.Fatalf("server state diverged: %+v", want.LogicGraph)
	}
}

// Rejoining after edits happened elsewhere yields the current server state,
// not the state at first join.
func TestRejoinResyncsFromServerTruth(t *testing.T) {
	m := newTestManager(t, newFakeStore(), nil, nil)
	a := newTestSession(m, "alice")
	b := newTestSession(m, "bob")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)
	join(t, m, b, "p1")
	recv(t, b, models.MsgActiveUsers)
	recv(t, a, models.MsgUserJoined)

	m.unregister <- b
	recv(t, a, models.MsgUserLeft)

	m.handleMessage(context.Background(), a, syncEventMessage(t, models.EventComponentCreate, "alice:1",
		models.ComponentPayload{Component: models.UIComponent{ID: "c-offline", Type: "form", Name: "Checkout"}}))

	b2 := newTestSession(m, "bob")
	join(t, m, b2, "p1")
	state := recv(t, b2, models.MsgProjectState)
	var got models.Project
	if err := state.DecodePayload(&got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(got.Components) != 1 || got.Components[0].ID != "c-offline" {
		t.Fatalf("rejoin snapshot missing offline edit: %+v", got.Components)
	}
}

func TestLastSessionLeavingPersistsAndClosesRoom(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, nil, nil)
	a := newTestSession(m, "alice")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)

	m.handleMessage(context.Background(), a, syncEventMessage(t, models.EventComponentCreate, "alice:1",
		models.ComponentPayload{Component: models.UIComponent{ID: "c1", Type: "button", Name: "Buy"}}))

	m.unregister <- a

	deadline := time.After(2 * time.Second)
	for m.RoomCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("room not closed after last session left")
		case <-time.After(10 * time.Millisecond):
		}
	}

	p := store.get("p1")
	if p == nil || len(p.Components) != 1 {
		t.Fatalf("final snapshot not persisted: %+v", p)
	}
}

func TestSaveAcknowledgedWithRequestID(t *testing.T) {
	m := newTestManager(t, newFakeStore(), nil, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")
	recv(t, s, models.MsgActiveUsers)

	msg, _ := models.NewMessage(models.MsgSaveProject, "req-42", nil)
	m.handleMessage(context.Background(), s, msg)

	ack := recv(t, s, models.MsgProjectSaved)
	if ack.RequestID != "req-42" {
		t.Fatalf("ack requestId: %q", ack.RequestID)
	}
}

func TestSaveFailureAnswersSaveError(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, nil, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")
	recv(t, s, models.MsgActiveUsers)

	store.mu.Lock()
	store.saveErr = fmt.Errorf("disk full")
	store.mu.Unlock()

	msg, _ := models.NewMessage(models.MsgSaveProject, "req-43", nil)
	m.handleMessage(context.Background(), s, msg)

	errMsg := recv(t, s, models.MsgSaveError)
	if errMsg.RequestID != "req-43" {
		t.Fatalf("error requestId: %q", errMsg.RequestID)
	}
}

func TestExportDeliveredToRequester(t *testing.T) {
	m := newTestManager(t, nil, fakeExporter{}, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")
	recv(t, s, models.MsgActiveUsers)

	msg, _ := models.NewMessage(models.MsgExportProject, "req-7", models.ExportProjectPayload{
		Format: models.ExportJSON,
	})
	m.handleMessage(context.Background(), s, msg)

	out := recv(t, s, models.MsgProjectExported)
	if out.RequestID != "req-7" {
		t.Fatalf("export requestId: %q", out.RequestID)
	}
	var payload models.ProjectExportedPayload
	if err := out.DecodePayload(&payload); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if payload.Format != models.ExportJSON || len(payload.Data) == 0 {
		t.Fatalf("export payload: %+v", payload)
	}
}

func TestExportWithoutExporterAnswersError(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")
	recv(t, s, models.MsgActiveUsers)

	msg, _ := models.NewMessage(models.MsgExportProject, "req-8", models.ExportProjectPayload{
		Format: models.ExportZip,
	})
	m.handleMessage(context.Background(), s, msg)
	recv(t, s, models.MsgExportError)
}

// An accepted component suggestion reaches the whole room as a normal
// component.create; the requester additionally gets the ai-response.
func TestAISuggestionAutoAppliedAndBroadcast(t *testing.T) {
	suggested := &models.UIComponent{ID: "ai-c1", Type: "card", Name: "Offer"}
	m := newTestManager(t, nil, nil, &fakeSuggester{component: suggested})
	a := newTestSession(m, "alice")
	b := newTestSession(m, "bob")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)
	join(t, m, b, "p1")
	recv(t, b, models.MsgActiveUsers)
	recv(t, a, models.MsgUserJoined)

	msg, _ := models.NewMessage(models.MsgAIRequest, "req-ai", models.AIRequestPayload{
		Type:   "component",
		Prompt: "add an offer card",
	})
	m.handleMessage(context.Background(), a, msg)

	resp := recv(t, a, models.MsgAIResponse)
	if resp.RequestID != "req-ai" {
		t.Fatalf("ai requestId: %q", resp.RequestID)
	}

	relayed := recv(t, b, models.MsgSyncEvent)
	var ev models.SyncEvent
	if err := relayed.DecodePayload(&ev); err != nil {
		t.Fatalf("decode relayed event: %v", err)
	}
	if ev.Type != models.EventComponentCreate {
		t.Fatalf("relayed type: %s", ev.Type)
	}
	if ev.OriginID != "server:ai" {
		t.Fatalf("origin: %q", ev.OriginID)
	}

	p := serverProject(t, m, "p1")
	if len(p.Components) != 1 || p.Components[0].ID != "ai-c1" {
		t.Fatalf("suggestion not applied server-side: %+v", p.Components)
	}
}

func TestCursorAndModeRelayedToPeers(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	a := newTestSession(m, "alice")
	b := newTestSession(m, "bob")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)
	join(t, m, b, "p1")
	recv(t, b, models.MsgActiveUsers)
	recv(t, a, models.MsgUserJoined)

	cursor, _ := models.NewMessage(models.MsgCursorUpdate, "", models.CursorUpdatePayload{
		Position: models.CursorPosition{X: 10, Y: 20, ElementID: "c1"},
		Mode:     models.ModeDesign,
	})
	m.handleMessage(context.Background(), a, cursor)

	relayed := recv(t, b, models.MsgUserCursor)
	var cp models.UserCursorPayload
	if err := relayed.DecodePayload(&cp); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cp.UserID != "alice" || cp.Position.X != 10 {
		t.Fatalf("cursor payload: %+v", cp)
	}

	mode, _ := models.NewMessage(models.MsgChangeMode, "", models.ChangeModePayload{Mode: models.ModeLogic})
	m.handleMessage(context.Background(), a, mode)

	changed := recv(t, b, models.MsgUserModeChanged)
	var mp models.UserModeChangedPayload
	if err := changed.DecodePayload(&mp); err != nil {
		t.Fatalf("decode mode change: %v", err)
	}
	if mp.UserID != "alice" || mp.Mode != models.ModeLogic {
		t.Fatalf("mode payload: %+v", mp)
	}
}

// An export that completes after its requester left must be dropped, not
// crash the worker that delivers it.
func TestLateExportAfterLeaveIsDropped(t *testing.T) {
	exporter := &captureExporter{}
	m := newTestManager(t, nil, exporter, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")
	recv(t, s, models.MsgActiveUsers)

	msg, _ := models.NewMessage(models.MsgExportProject, "req-9", models.ExportProjectPayload{
		Format: models.ExportJSON,
	})
	m.handleMessage(context.Background(), s, msg)

	m.unregister <- s
	deadline := time.After(2 * time.Second)
	for m.RoomCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("room not closed after last session left")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The worker finishes late. The session's channel is closed; delivery
	// must degrade to a drop.
	exporter.fire(&models.ProjectExportedPayload{
		Format:   models.ExportJSON,
		Filename: "late-export",
		Data:     []byte("{}"),
	}, nil)
}

// Evicting a slow client happens inside the broadcast fan-out, which runs on
// the manager's own loop; the room must keep serving afterwards.
func TestSlowSessionEvictedWithoutStallingRoom(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	a := newTestSession(m, "alice")
	join(t, m, a, "p1")
	recv(t, a, models.MsgActiveUsers)

	// No buffer and no reader: the first fan-out to this session fails.
	slow := &Session{
		Session: models.NewSession("", "snail", models.ModeDesign),
		Send:    make(chan []byte),
		Manager: m,
	}
	join(t, m, slow, "p1")
	recv(t, a, models.MsgUserJoined)

	m.handleMessage(context.Background(), a, syncEventMessage(t, models.EventComponentCreate, "alice:1",
		models.ComponentPayload{Component: models.UIComponent{ID: "c1", Type: "button", Name: "Buy"}}))

	left := recv(t, a, models.MsgUserLeft)
	var lp models.UserLeftPayload
	if err := left.DecodePayload(&lp); err != nil {
		t.Fatalf("decode user-left: %v", err)
	}
	if lp.UserID != "snail" {
		t.Fatalf("evicted user: %q", lp.UserID)
	}

	// The loop is still alive: a fresh join completes normally.
	c := newTestSession(m, "carol")
	join(t, m, c, "p1")
	recv(t, c, models.MsgProjectState)
}

func TestSyncEventBeforeJoinRejected(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	s := newTestSession(m, "alice")

	m.handleMessage(context.Background(), s, syncEventMessage(t, models.EventComponentCreate, "alice:1",
		models.ComponentPayload{Component: models.UIComponent{ID: "c1", Type: "button"}}))
	recv(t, s, models.MsgError)
}

func TestUnknownMessageTypeAnswersError(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)
	s := newTestSession(m, "alice")
	join(t, m, s, "p1")
	recv(t, s, models.MsgActiveUsers)

	m.handleMessage(context.Background(), s, &models.Message{Type: "time-travel"})
	recv(t, s, models.MsgError)
}
