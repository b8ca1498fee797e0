package collab

import (
	"sync"
	"time"

	"appforge/internal/engine"
	"appforge/internal/models"
)

// room is one project's broadcast scope. It owns the authoritative server
// engine for that project and the presence roster of everyone editing it.
type room struct {
	projectID string
	engine    *engine.Engine
	sessions  map[*Session]bool

	// relayMu serializes apply + broadcast enqueue for this room so every
	// peer observes the same relay order. The server is the sequencer: it
	// never reorders, and it never blocks a sender on peer acknowledgement.
	relayMu sync.Mutex

	presenceMu sync.RWMutex
	presence   map[string]*models.PresenceState
}

func newRoom(projectID string, project *models.Project) *room {
	return &room{
		projectID: projectID,
		engine:    engine.New(project, "server:"+projectID),
		sessions:  make(map[*Session]bool),
		presence:  make(map[string]*models.PresenceState),
	}
}

func (r *room) touchPresence(userID string, mode models.EditorMode, cursor *models.CursorPosition) {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	state, ok := r.presence[userID]
	if !ok {
		state = &models.PresenceState{UserID: userID}
		r.presence[userID] = state
	}
	if mode != "" {
		state.Mode = mode
	}
	if cursor != nil {
		state.Cursor = cursor
	}
	state.LastActivity = time.Now()
}

func (r *room) removePresence(userID string) {
	r.presenceMu.Lock()
	delete(r.presence, userID)
	r.presenceMu.Unlock()
}

// roster returns the presence list, most recently connected last is not
// guaranteed; clients sort as they see fit.
func (r *room) roster() []models.PresenceState {
	r.presenceMu.RLock()
	defer r.presenceMu.RUnlock()

	out := make([]models.PresenceState, 0, len(r.presence))
	for _, state := range r.presence {
		out = append(out, *state)
	}
	return out
}
