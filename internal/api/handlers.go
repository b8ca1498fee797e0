package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"appforge/internal/collab"
	"appforge/internal/models"
	"appforge/internal/repository"

	"github.com/gorilla/mux"
)

// Handler carries the REST management surface for the editor shell. Live
// editing goes over the websocket route; these endpoints cover the project
// list and lifecycle around it.
type Handler struct {
	projectRepo *repository.ProjectRepositoryImpl
	wsHandler   *collab.WebSocketHandler
	exportQueue ExportQueue
	roomStats   RoomStats
}

func NewHandler(
	projectRepo *repository.ProjectRepositoryImpl,
	wsHandler *collab.WebSocketHandler,
	exportQueue ExportQueue,
	roomStats RoomStats,
) *Handler {
	return &Handler{
		projectRepo: projectRepo,
		wsHandler:   wsHandler,
		exportQueue: exportQueue,
		roomStats:   roomStats,
	}
}

// Project handlers

type createProjectRequest struct {
	Name string `json:"name"`
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "untitled"
	}

	project := models.NewProject(req.Name)
	if err := h.projectRepo.Save(r.Context(), project); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(project)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	records, err := h.projectRepo.List(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"projects": records,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	project, err := h.projectRepo.Load(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(project)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.projectRepo.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleProjectWebSocket upgrades the connection and hands it to the
// collaboration layer.
func (h *Handler) HandleProjectWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleProjectConnection(w, r)
}

// Stats reports live server state. Useful when watching a deployment.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{}
	if h.roomStats != nil {
		stats["rooms"] = h.roomStats.RoomCount()
		stats["sessions"] = h.roomStats.SessionCount()
	}
	if h.exportQueue != nil {
		stats["exportQueue"] = h.exportQueue.GetQueueLength()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
