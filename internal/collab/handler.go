package collab

import (
	"context"
	"log"
	"net/http"

	"appforge/internal/middleware"
	"appforge/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, validate origin properly
		return true
	},
}

// WebSocketHandler upgrades HTTP connections into project sync sessions.
type WebSocketHandler struct {
	manager *RoomManager
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(manager *RoomManager) *WebSocketHandler {
	return &WebSocketHandler{manager: manager}
}

// HandleProjectConnection handles the WebSocket connection for one project.
// The session starts roomless; joining happens when the client sends its
// join-project message, which also carries user id and editor mode.
func (h *WebSocketHandler) HandleProjectConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	projectID := vars["id"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}
	mode := models.EditorMode(r.URL.Query().Get("mode"))

	ctx, span := middleware.StartSpan(ctx, "Collab.Connect",
		attribute.String("project.id", projectID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := &Session{
		Session: models.NewSession(projectID, userID, mode),
		Conn:    conn,
		Send:    make(chan []byte, 256), // Buffered channel
		Manager: h.manager,
	}

	// The pumps own the connection from here. Reading and writing live in
	// separate goroutines so neither can deadlock the other. net/http cancels
	// r.Context() as soon as this handler returns, so the pumps run on a
	// detached context: store loads and saves made on behalf of the session
	// must outlive the upgrade request.
	connCtx := context.WithoutCancel(ctx)
	go session.WritePump(connCtx)
	go session.ReadPump(connCtx)

	log.Printf("✓ WebSocket connection established for project %s (user: %s)", projectID, userID)
}
