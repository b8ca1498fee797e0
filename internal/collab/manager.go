package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"appforge/internal/models"
)

const (
	cleanupInterval = 30 * time.Second
	sessionTimeout  = 5 * time.Minute
	persistTimeout  = 10 * time.Second
)

// RoomManager coordinates every active project room. Registration,
// unregistration and fan-out all flow through one run loop, so membership
// changes and broadcasts are observed in a single consistent order.
type RoomManager struct {
	rooms map[string]*room
	mu    sync.RWMutex

	register   chan *Session
	unregister chan *Session
	broadcast  chan *BroadcastMessage

	store     ProjectStore
	exporter  Exporter
	suggester Suggester

	done chan struct{}
}

// BroadcastMessage is one envelope to fan out to a project room.
type BroadcastMessage struct {
	ProjectID string
	Data      []byte
	Sender    *Session // Skip this session when broadcasting
}

// NewRoomManager creates a manager. store may be nil (volatile rooms);
// exporter and suggester may be nil, in which case the matching requests
// answer with their error message.
func NewRoomManager(store ProjectStore, exporter Exporter, suggester Suggester) *RoomManager {
	return &RoomManager{
		rooms:      make(map[string]*room),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan *BroadcastMessage, 256),
		store:      store,
		exporter:   exporter,
		suggester:  suggester,
		done:       make(chan struct{}),
	}
}

// Start begins the room manager event loop and the stale-session sweeper.
func (m *RoomManager) Start() {
	log.Println("🔄 Starting project room manager...")

	go func() {
		for {
			select {
			case <-m.done:
				log.Println("Room manager shutting down...")
				return
			case session := <-m.register:
				m.handleRegister(session)
			case session := <-m.unregister:
				m.handleUnregister(session)
			case msg := <-m.broadcast:
				m.handleBroadcast(msg)
			}
		}
	}()

	go m.cleanupLoop()

	log.Println("✓ Project room manager started")
}

// getOrCreateRoom hydrates a room from the store on first join. A missing
// record is not an error: editing a brand-new project starts from empty.
func (m *RoomManager) getOrCreateRoom(ctx context.Context, projectID string) *room {
	m.mu.RLock()
	r, ok := m.rooms[projectID]
	m.mu.RUnlock()
	if ok {
		return r
	}

	var project *models.Project
	if m.store != nil {
		loaded, err := m.store.Load(ctx, projectID)
		if err != nil {
			log.Printf("room %s: load snapshot: %v (starting empty)", projectID, err)
		} else {
			project = loaded
		}
	}
	if project == nil {
		project = models.NewProject("untitled")
		project.ID = projectID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rooms[projectID]; ok {
		return existing // lost the race, keep the first engine
	}
	r = newRoom(projectID, project)
	m.rooms[projectID] = r
	log.Printf("  Room %s opened", projectID)
	return r
}

func (m *RoomManager) roomOf(s *Session) *room {
	if s.ProjectID == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[s.ProjectID]
}

func (m *RoomManager) handleRegister(session *Session) {
	m.mu.RLock()
	r := m.rooms[session.ProjectID]
	m.mu.RUnlock()
	if r == nil {
		return
	}

	r.relayMu.Lock()
	r.sessions[session] = true
	total := len(r.sessions)
	r.relayMu.Unlock()

	r.touchPresence(session.UserID, session.Mode, nil)

	log.Printf("  Session %s joined project %s (total: %d users)", session.ID, session.ProjectID, total)

	joined, err := models.NewMessage(models.MsgUserJoined, "", models.UserJoinedPayload{
		UserID: session.UserID,
		Mode:   session.Mode,
	})
	if err == nil {
		m.broadcast <- &BroadcastMessage{ProjectID: session.ProjectID, Data: mustEncode(joined), Sender: session}
	}
}

func (m *RoomManager) handleUnregister(session *Session) {
	r := m.roomOf(session)
	if r == nil {
		return
	}

	r.relayMu.Lock()
	_, member := r.sessions[session]
	if member {
		delete(r.sessions, session)
		session.closeSend()
	}
	remaining := len(r.sessions)
	r.relayMu.Unlock()

	if !member {
		return
	}

	r.removePresence(session.UserID)
	log.Printf("  Session %s left project %s (remaining: %d users)", session.ID, session.ProjectID, remaining)

	if remaining == 0 {
		m.closeRoom(r)
		return
	}

	left, err := models.NewMessage(models.MsgUserLeft, "", models.UserLeftPayload{UserID: session.UserID})
	if err == nil {
		m.broadcast <- &BroadcastMessage{ProjectID: session.ProjectID, Data: mustEncode(left)}
	}
}

// closeRoom persists the final snapshot and drops the room.
func (m *RoomManager) closeRoom(r *room) {
	m.persistRoom(r)

	m.mu.Lock()
	delete(m.rooms, r.projectID)
	m.mu.Unlock()
	log.Printf("  Room %s closed", r.projectID)
}

func (m *RoomManager) handleBroadcast(msg *BroadcastMessage) {
	m.mu.RLock()
	r := m.rooms[msg.ProjectID]
	m.mu.RUnlock()
	if r == nil {
		return
	}

	r.relayMu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.relayMu.Unlock()

	// Eviction happens after the fan-out, and directly: handleBroadcast runs
	// on the run loop, so sending to m.unregister here would deadlock it.
	var evict []*Session
	for _, s := range sessions {
		if msg.Sender != nil && s == msg.Sender {
			continue
		}
		if !s.enqueue(msg.Data) {
			// Buffer full - connection is slow or dead.
			log.Printf("⚠️  session %s buffer full, closing connection", s.ID)
			evict = append(evict, s)
		}
	}
	for _, s := range evict {
		m.handleUnregister(s)
	}
}

// handleMessage dispatches one decoded envelope from a session.
func (m *RoomManager) handleMessage(ctx context.Context, s *Session, msg *models.Message) {
	switch msg.Type {
	case models.MsgJoinProject:
		m.handleJoin(ctx, s, msg)
	case models.MsgSyncEvent:
		m.handleSyncEvent(ctx, s, msg)
	case models.MsgCursorUpdate:
		m.handleCursor(s, msg)
	case models.MsgChangeMode:
		m.handleChangeMode(s, msg)
	case models.MsgSaveProject:
		m.handleSave(ctx, s, msg)
	case models.MsgExportProject:
		m.handleExport(s, msg)
	case models.MsgAIRequest:
		m.handleAIRequest(ctx, s, msg)
	default:
		// Unknown message kinds are logged and dropped, never fatal.
		log.Printf("session %s: unknown message type %q", s.ID, msg.Type)
		s.sendError(msg.RequestID, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (m *RoomManager) handleJoin(ctx context.Context, s *Session, msg *models.Message) {
	var p models.JoinProjectPayload
	if err := msg.DecodePayload(&p); err != nil {
		s.sendError(msg.RequestID, "malformed join-project payload")
		return
	}
	if p.ProjectID == "" {
		s.sendError(msg.RequestID, "join-project requires projectId")
		return
	}

	s.ProjectID = p.ProjectID
	if p.UserID != "" {
		s.UserID = p.UserID
	}
	if p.Mode != "" {
		s.Mode = p.Mode
	}

	r := m.getOrCreateRoom(ctx, p.ProjectID)
	m.register <- s

	// Full snapshot on join: it replaces the client's local model outright.
	// Reconnect means resync from server truth, not reconcile.
	state, err := models.NewMessage(models.MsgProjectState, "", r.engine.Project())
	if err != nil {
		s.sendError("", "failed to encode project state")
		return
	}
	s.send(state)

	roster, err := models.NewMessage(models.MsgActiveUsers, "", r.roster())
	if err == nil {
		s.send(roster)
	}
}

func (m *RoomManager) handleSyncEvent(ctx context.Context, s *Session, msg *models.Message) {
	r := m.roomOf(s)
	if r == nil {
		s.sendError(msg.RequestID, "join a project before sending sync events")
		return
	}

	var ev models.SyncEvent
	if err := msg.DecodePayload(&ev); err != nil {
		s.sendError("", "malformed sync event")
		return
	}

	// Apply and enqueue under the relay lock: the order events land in the
	// engine is exactly the order every peer receives them.
	r.relayMu.Lock()
	r.engine.ApplyRemoteEvent(ev)
	data := mustEncode(msg)
	bm := &BroadcastMessage{ProjectID: s.ProjectID, Data: data, Sender: s}
	r.relayMu.Unlock()
	m.broadcast <- bm

	r.touchPresence(s.UserID, s.Mode, nil)
	m.indexIfComponent(s.ProjectID, ev)
	go m.persistRoom(r)
}

// indexIfComponent feeds component creations and updates to the suggestion
// index so AI answers stay grounded in the current component library.
func (m *RoomManager) indexIfComponent(projectID string, ev models.SyncEvent) {
	if m.suggester == nil {
		return
	}
	if ev.Type != models.EventComponentCreate {
		return
	}
	p, err := ev.DecodeComponent()
	if err != nil {
		return
	}
	m.suggester.IndexComponent(projectID, p.Component)
}

func (m *RoomManager) handleCursor(s *Session, msg *models.Message) {
	r := m.roomOf(s)
	if r == nil {
		return
	}

	var p models.CursorUpdatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return // cursor noise is not worth an error round-trip
	}

	r.touchPresence(s.UserID, p.Mode, &p.Position)

	out, err := models.NewMessage(models.MsgUserCursor, "", models.UserCursorPayload{
		UserID:   s.UserID,
		Position: p.Position,
		Mode:     p.Mode,
	})
	if err == nil {
		m.broadcast <- &BroadcastMessage{ProjectID: s.ProjectID, Data: mustEncode(out), Sender: s}
	}
}

func (m *RoomManager) handleChangeMode(s *Session, msg *models.Message) {
	r := m.roomOf(s)
	if r == nil {
		return
	}

	var p models.ChangeModePayload
	if err := msg.DecodePayload(&p); err != nil {
		s.sendError("", "malformed change-mode payload")
		return
	}

	s.Mode = p.Mode
	r.touchPresence(s.UserID, p.Mode, nil)

	out, err := models.NewMessage(models.MsgUserModeChanged, "", models.UserModeChangedPayload{
		UserID: s.UserID,
		Mode:   p.Mode,
	})
	if err == nil {
		m.broadcast <- &BroadcastMessage{ProjectID: s.ProjectID, Data: mustEncode(out), Sender: s}
	}
}

func (m *RoomManager) handleSave(ctx context.Context, s *Session, msg *models.Message) {
	r := m.roomOf(s)
	if r == nil {
		s.sendError(msg.RequestID, "join a project before saving")
		return
	}
	if m.store == nil {
		m.replyError(s, models.MsgSaveError, msg.RequestID, "persistence is not configured")
		return
	}

	if err := m.store.Save(ctx, r.engine.Project()); err != nil {
		log.Printf("room %s: save: %v", r.projectID, err)
		m.replyError(s, models.MsgSaveError, msg.RequestID, err.Error())
		return
	}

	ack, err := models.NewMessage(models.MsgProjectSaved, msg.RequestID, models.ProjectSavedPayload{
		Timestamp: time.Now(),
	})
	if err == nil {
		s.send(ack)
	}
}

func (m *RoomManager) handleExport(s *Session, msg *models.Message) {
	r := m.roomOf(s)
	if r == nil {
		s.sendError(msg.RequestID, "join a project before exporting")
		return
	}
	if m.exporter == nil {
		m.replyError(s, models.MsgExportError, msg.RequestID, "export is not configured")
		return
	}

	var p models.ExportProjectPayload
	if err := msg.DecodePayload(&p); err != nil {
		m.replyError(s, models.MsgExportError, msg.RequestID, "malformed export-project payload")
		return
	}

	requestID := msg.RequestID
	err := m.exporter.Submit(r.projectID, r.engine.Project(), p.Format,
		func(result *models.ProjectExportedPayload, err error) {
			if err != nil {
				m.replyError(s, models.MsgExportError, requestID, err.Error())
				return
			}
			out, encErr := models.NewMessage(models.MsgProjectExported, requestID, result)
			if encErr != nil {
				m.replyError(s, models.MsgExportError, requestID, "failed to encode export")
				return
			}
			s.send(out)
		})
	if err != nil {
		m.replyError(s, models.MsgExportError, msg.RequestID, err.Error())
	}
}

func (m *RoomManager) handleAIRequest(ctx context.Context, s *Session, msg *models.Message) {
	r := m.roomOf(s)
	if r == nil {
		s.sendError(msg.RequestID, "join a project before requesting AI help")
		return
	}
	if m.suggester == nil {
		m.replyError(s, models.MsgAIError, msg.RequestID, "AI is not configured")
		return
	}

	var p models.AIRequestPayload
	if err := msg.DecodePayload(&p); err != nil {
		m.replyError(s, models.MsgAIError, msg.RequestID, "malformed ai-request payload")
		return
	}

	requestID := msg.RequestID
	snapshot := r.engine.Project()

	// AI calls are slow; never block the read pump on them. The client
	// enforces its own timeout and tolerates a late reply.
	go func() {
		resp, err := m.suggester.Suggest(context.WithoutCancel(ctx), snapshot, p)
		if err != nil {
			m.replyError(s, models.MsgAIError, requestID, err.Error())
			return
		}

		// A component suggestion is auto-applied as component.create and
		// relayed to the whole room, the requester included: their engine
		// applies it idempotently alongside the ai-response.
		if resp.Component != nil {
			ev, evErr := models.NewSyncEvent(models.EventComponentCreate, "server:ai", models.ComponentPayload{
				Component: *resp.Component,
			})
			if evErr == nil {
				m.relayServerEvent(r, ev)
			}
		}

		out, encErr := models.NewMessage(models.MsgAIResponse, requestID, resp)
		if encErr != nil {
			m.replyError(s, models.MsgAIError, requestID, "failed to encode ai response")
			return
		}
		s.send(out)
	}()
}

// relayServerEvent applies a server-originated event and fans it out to every
// session in the room.
func (m *RoomManager) relayServerEvent(r *room, ev models.SyncEvent) {
	msg, err := models.NewMessage(models.MsgSyncEvent, "", ev)
	if err != nil {
		return
	}

	r.relayMu.Lock()
	r.engine.ApplyRemoteEvent(ev)
	bm := &BroadcastMessage{ProjectID: r.projectID, Data: mustEncode(msg)}
	r.relayMu.Unlock()
	m.broadcast <- bm

	m.indexIfComponent(r.projectID, ev)
	go m.persistRoom(r)
}

func (m *RoomManager) replyError(s *Session, t models.MessageType, requestID, message string) {
	msg, err := models.NewMessage(t, requestID, models.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.send(msg)
}

// persistRoom writes the room's current snapshot. Autosave failures are
// logged, not surfaced: the authoritative in-memory state is intact and the
// next save will retry.
func (m *RoomManager) persistRoom(r *room) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Save(ctx, r.engine.Project()); err != nil {
		log.Printf("room %s: autosave: %v", r.projectID, err)
	}
}

func (m *RoomManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup evicts sessions idle past the timeout.
func (m *RoomManager) cleanup() {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, r := range rooms {
		r.relayMu.Lock()
		var stale []*Session
		for s := range r.sessions {
			if now.Sub(s.lastActive()) > sessionTimeout {
				stale = append(stale, s)
			}
		}
		r.relayMu.Unlock()

		for _, s := range stale {
			log.Printf("  Cleaning up inactive session %s", s.ID)
			m.unregister <- s
		}
	}
}

// Shutdown gracefully closes all connections and persists every open room.
func (m *RoomManager) Shutdown() {
	log.Println("🛑 Shutting down room manager...")

	close(m.done)

	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*room)
	m.mu.Unlock()

	for _, r := range rooms {
		m.persistRoom(r)
		r.relayMu.Lock()
		for s := range r.sessions {
			s.closeSend()
			if s.Conn != nil {
				s.Conn.Close()
			}
		}
		r.sessions = make(map[*Session]bool)
		r.relayMu.Unlock()
	}

	log.Println("✓ Room manager shutdown complete")
}

// RoomCount returns the number of open project rooms.
func (m *RoomManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// SessionCount returns the number of connected sessions across all rooms.
func (m *RoomManager) SessionCount() int {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	total := 0
	for _, r := range rooms {
		r.relayMu.Lock()
		total += len(r.sessions)
		r.relayMu.Unlock()
	}
	return total
}

func mustEncode(msg *models.Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Envelope fields are all marshalable types; this cannot fail with
		// well-formed messages.
		log.Printf("encode %s: %v", msg.Type, err)
		return []byte(`{"type":"error","payload":{"message":"internal encode failure"}}`)
	}
	return data
}
