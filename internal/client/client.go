// Package client is the Transport Session the editor views embed: it joins a
// project room, keeps a local sync-engine replica converged with the server,
// and exposes save/export/AI requests with client-side timeouts.
package client

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"appforge/internal/engine"
	"appforge/internal/models"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

// Callbacks are how the editor layers observe the session. All of them are
// optional; nil callbacks are skipped.
type Callbacks struct {
	OnProjectUpdate    func(*models.Project)
	OnConnectionChange func(bool)
	OnError            func(string)
	OnActiveUsers      func([]models.PresenceState)
	OnUserJoined       func(models.UserJoinedPayload)
	OnUserLeft         func(models.UserLeftPayload)
	OnUserModeChanged  func(models.UserModeChangedPayload)
	OnRemoteCursor     func(models.UserCursorPayload)
}

// Client is one client's connection to a project room.
type Client struct {
	serverURL string
	projectID string
	userID    string
	mode      models.EditorMode
	originID  string

	callbacks Callbacks

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// engineMu guards engine and the ready flag. The engine reference is nil
	// until the first project-state snapshot arrives and is nulled again on
	// disconnect.
	engineMu sync.Mutex
	engine   *engine.Engine

	pending  engine.PendingQueue
	requests *requestTable
}

// New creates a client for one project. serverURL is the ws(s):// base of the
// sync server.
func New(serverURL, projectID, userID string, mode models.EditorMode, cb Callbacks) *Client {
	return &Client{
		serverURL: serverURL,
		projectID: projectID,
		userID:    userID,
		mode:      mode,
		originID:  userID + ":" + ksuid.New().String(),
		callbacks: cb,
		requests:  newRequestTable(),
	}
}

// Connect dials the server, joins the project room and starts the read loop.
// The engine replica is not usable until the server's snapshot arrives;
// remote events received before that are buffered and replayed in order.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.JoinPath(c.serverURL, "ws", "project", c.projectID)
	if err != nil {
		return fmt.Errorf("build server url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial sync server: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop(conn)

	join, err := models.NewMessage(models.MsgJoinProject, "", models.JoinProjectPayload{
		ProjectID: c.projectID,
		UserID:    c.userID,
		Mode:      c.mode,
	})
	if err != nil {
		return err
	}
	if err := c.write(join); err != nil {
		return fmt.Errorf("send join-project: %w", err)
	}

	if c.callbacks.OnConnectionChange != nil {
		c.callbacks.OnConnectionChange(true)
	}
	return nil
}

// Disconnect tears down the socket and nulls the engine reference. Every
// outstanding request is rejected rather than left hanging.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.engineMu.Lock()
	c.engine = nil
	c.engineMu.Unlock()

	// Events buffered before this connection's snapshot belong to a dead
	// epoch; replaying them after the next snapshot would regress newer
	// server state.
	c.pending.Drain()

	c.requests.failAll(fmt.Errorf("session disconnected"))

	if c.callbacks.OnConnectionChange != nil {
		c.callbacks.OnConnectionChange(false)
	}
}

// Ready reports whether the initial snapshot has arrived.
func (c *Client) Ready() bool {
	c.engineMu.Lock()
	defer c.engineMu.Unlock()
	return c.engine != nil
}

// Project returns the current local snapshot, or nil before initialization.
func (c *Client) Project() *models.Project {
	c.engineMu.Lock()
	e := c.engine
	c.engineMu.Unlock()
	if e == nil {
		return nil
	}
	return e.Project()
}

// Local mutation entry points, one per editor view. Each mutates the local
// replica and broadcasts the resulting event to the room.

func (c *Client) SyncFromDesign(change engine.ChangeKind, payload any) error {
	e, err := c.readyEngine()
	if err != nil {
		return err
	}
	return e.SyncFromDesign(change, payload)
}

func (c *Client) SyncFromLogic(change engine.ChangeKind, kind engine.LogicKind, payload any) error {
	e, err := c.readyEngine()
	if err != nil {
		return err
	}
	return e.SyncFromLogic(change, kind, payload)
}

func (c *Client) SyncFromCode(change engine.ChangeKind, payload any) error {
	e, err := c.readyEngine()
	if err != nil {
		return err
	}
	return e.SyncFromCode(change, payload)
}

func (c *Client) SyncScreen(change engine.ChangeKind, payload any) error {
	e, err := c.readyEngine()
	if err != nil {
		return err
	}
	return e.SyncScreen(change, payload)
}

func (c *Client) SyncSettings(settings models.ProjectSettings) error {
	e, err := c.readyEngine()
	if err != nil {
		return err
	}
	return e.SyncSettings(settings)
}

func (c *Client) readyEngine() (*engine.Engine, error) {
	c.engineMu.Lock()
	defer c.engineMu.Unlock()
	if c.engine == nil {
		return nil, fmt.Errorf("session not initialized: waiting for project state")
	}
	return c.engine, nil
}

// Save requests durable persistence and waits for the ack (10s timeout).
func (c *Client) Save(ctx context.Context) (time.Time, error) {
	msg, err := c.request(ctx, models.MsgSaveProject, nil, saveTimeout)
	if err != nil {
		return time.Time{}, err
	}
	var p models.ProjectSavedPayload
	if err := msg.DecodePayload(&p); err != nil {
		return time.Time{}, err
	}
	return p.Timestamp, nil
}

// Export requests an export artifact and waits for it (30s timeout).
func (c *Client) Export(ctx context.Context, format models.ExportFormat) (*models.ProjectExportedPayload, error) {
	msg, err := c.request(ctx, models.MsgExportProject, models.ExportProjectPayload{Format: format}, exportTimeout)
	if err != nil {
		return nil, err
	}
	var p models.ProjectExportedPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RequestAI delegates a prompt to the AI collaborator (30s timeout). The
// server may additionally auto-apply a suggested component as a
// component.create event relayed to the whole room.
func (c *Client) RequestAI(ctx context.Context, req models.AIRequestPayload) (*models.AIResponsePayload, error) {
	msg, err := c.request(ctx, models.MsgAIRequest, req, aiTimeout)
	if err != nil {
		return nil, err
	}
	var p models.AIResponsePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SendCursor broadcasts the local cursor position (fire-and-forget).
func (c *Client) SendCursor(pos models.CursorPosition) error {
	msg, err := models.NewMessage(models.MsgCursorUpdate, "", models.CursorUpdatePayload{
		Position: pos,
		Mode:     c.mode,
	})
	if err != nil {
		return err
	}
	return c.write(msg)
}

// ChangeMode announces a local view switch.
func (c *Client) ChangeMode(mode models.EditorMode) error {
	c.mode = mode
	msg, err := models.NewMessage(models.MsgChangeMode, "", models.ChangeModePayload{Mode: mode})
	if err != nil {
		return err
	}
	return c.write(msg)
}

// request sends one correlated message and waits for its reply, the caller's
// context, or the per-kind timeout, whichever comes first.
func (c *Client) request(ctx context.Context, t models.MessageType, payload any, timeout time.Duration) (*models.Message, error) {
	id, done := c.requests.add(timeout)

	msg, err := models.NewMessage(t, id, payload)
	if err != nil {
		c.requests.deliver(id, requestResult{err: err})
		<-done
		return nil, err
	}
	if err := c.write(msg); err != nil {
		c.requests.deliver(id, requestResult{err: err})
		<-done
		return nil, err
	}

	select {
	case res := <-done:
		return res.msg, res.err
	case <-ctx.Done():
		c.requests.deliver(id, requestResult{err: ctx.Err()})
		return nil, ctx.Err()
	}
}

func (c *Client) write(msg *models.Message) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := msg.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Connection-level failure: reject waiters, drop the engine, and
			// report. Recovery is reconnect + full resnapshot, not manual
			// reconciliation.
			c.Disconnect()
			return
		}

		msg, err := models.DecodeMessage(data)
		if err != nil {
			c.reportError(err.Error())
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage dispatches one server envelope.
func (c *Client) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MsgProjectState:
		c.handleProjectState(msg)

	case models.MsgSyncEvent:
		c.handleSyncEvent(msg)

	case models.MsgProjectSaved, models.MsgProjectExported, models.MsgAIResponse:
		if !c.requests.deliver(msg.RequestID, requestResult{msg: msg}) {
			log.Printf("sync client: discarding late %s reply", msg.Type)
		}

	case models.MsgSaveError, models.MsgExportError, models.MsgAIError:
		var p models.ErrorPayload
		if err := msg.DecodePayload(&p); err != nil {
			p.Message = string(msg.Type)
		}
		if !c.requests.deliver(msg.RequestID, requestResult{err: fmt.Errorf("%s: %s", msg.Type, p.Message)}) {
			log.Printf("sync client: discarding late %s reply", msg.Type)
		}

	case models.MsgActiveUsers:
		var roster []models.PresenceState
		if err := msg.DecodePayload(&roster); err == nil && c.callbacks.OnActiveUsers != nil {
			c.callbacks.OnActiveUsers(roster)
		}

	case models.MsgUserJoined:
		var p models.UserJoinedPayload
		if err := msg.DecodePayload(&p); err == nil && c.callbacks.OnUserJoined != nil {
			c.callbacks.OnUserJoined(p)
		}

	case models.MsgUserLeft:
		var p models.UserLeftPayload
		if err := msg.DecodePayload(&p); err == nil && c.callbacks.OnUserLeft != nil {
			c.callbacks.OnUserLeft(p)
		}

	case models.MsgUserModeChanged:
		var p models.UserModeChangedPayload
		if err := msg.DecodePayload(&p); err == nil && c.callbacks.OnUserModeChanged != nil {
			c.callbacks.OnUserModeChanged(p)
		}

	case models.MsgUserCursor:
		var p models.UserCursorPayload
		if err := msg.DecodePayload(&p); err == nil && c.callbacks.OnRemoteCursor != nil {
			c.callbacks.OnRemoteCursor(p)
		}

	case models.MsgError:
		var p models.ErrorPayload
		if err := msg.DecodePayload(&p); err == nil {
			c.reportError(p.Message)
		}

	default:
		// Older client, newer server: log and drop, never crash.
		log.Printf("sync client: unknown message type %q", msg.Type)
	}
}

// handleProjectState installs the server snapshot. The snapshot always
// replaces the local model, never merges with it: local-only mutations made
// while disconnected and not yet acknowledged are discarded by design.
func (c *Client) handleProjectState(msg *models.Message) {
	var project models.Project
	if err := msg.DecodePayload(&project); err != nil {
		c.reportError("malformed project state: " + err.Error())
		return
	}

	e := engine.New(&project, c.originID)
	e.OnError(c.reportError)
	e.OnEvent(c.broadcastLocalEvent)
	if c.callbacks.OnProjectUpdate != nil {
		e.OnProjectUpdate(c.callbacks.OnProjectUpdate)
	}

	c.engineMu.Lock()
	c.engine = e
	c.engineMu.Unlock()

	// Drain events that raced the snapshot, strictly in arrival order.
	for _, ev := range c.pending.Drain() {
		e.ApplyRemoteEvent(ev)
	}

	if c.callbacks.OnProjectUpdate != nil {
		c.callbacks.OnProjectUpdate(e.Project())
	}
}

func (c *Client) handleSyncEvent(msg *models.Message) {
	var ev models.SyncEvent
	if err := msg.DecodePayload(&ev); err != nil {
		c.reportError("malformed sync event: " + err.Error())
		return
	}

	c.engineMu.Lock()
	e := c.engine
	c.engineMu.Unlock()

	if e == nil {
		// Engine not initialized yet: buffer instead of dropping.
		c.pending.Enqueue(ev)
		return
	}
	e.ApplyRemoteEvent(ev)
}

// broadcastLocalEvent ships one locally emitted event to the server.
func (c *Client) broadcastLocalEvent(ev models.SyncEvent) {
	msg, err := models.NewMessage(models.MsgSyncEvent, "", ev)
	if err != nil {
		c.reportError(err.Error())
		return
	}
	if err := c.write(msg); err != nil {
		c.reportError("broadcast event: " + err.Error())
	}
}

func (c *Client) reportError(msg string) {
	log.Printf("sync client: %s", msg)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(msg)
	}
}
