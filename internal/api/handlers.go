package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/syncrelay/server/internal/db"
	"github.com/syncrelay/server/internal/session"
	"github.com/syncrelay/server/internal/store"
	"github.com/syncrelay/server/internal/ws"
)

type API struct {
	hub      *ws.Hub
	registry *session.Registry
	store    *store.Store
	database *db.Database
}

func New(hub *ws.Hub, registry *session.Registry, st *store.Store, database *db.Database) *API {
	return &API{
		hub:      hub,
		registry: registry,
		store:    st,
		database: database,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_sessions":    a.registry.SessionCount(),
		"active_clients":     a.hub.ClientCount(),
		"persisted_sessions": a.store.CountSessions(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_versions"] = dbStats["version_count"]
			stats["versioned_sessions"] = dbStats["session_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Session handlers

type SessionResponse struct {
	ID           string   `json:"id"`
	ActiveUsers  int      `json:"active_users"`
	Participants []string `json:"participants,omitempty"`
	HasSnapshot  bool     `json:"has_snapshot"`
	VersionCount int      `json:"version_count,omitempty"`
}

func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	active := a.registry.ActiveSessions()

	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	response := make([]SessionResponse, len(ids))
	for i, id := range ids {
		response[i] = SessionResponse{
			ID:          id,
			ActiveUsers: active[id],
		}
		if s, ok := a.registry.Get(id); ok {
			_, response[i].HasSnapshot = s.Snapshot()
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": response,
		"total":    len(response),
	})
}

func (a *API) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract session ID from path: /api/sessions/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID := strings.TrimSuffix(path, "/")

	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	s, ok := a.registry.Get(sessionID)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}

	participants := s.Participants()
	sort.Strings(participants)
	_, hasSnapshot := s.Snapshot()

	resp := SessionResponse{
		ID:           s.ID,
		ActiveUsers:  len(participants),
		Participants: participants,
		HasSnapshot:  hasSnapshot,
	}
	if a.database != nil {
		resp.VersionCount, _ = a.database.GetVersionCount(sessionID)
	}

	jsonResponse(w, http.StatusOK, resp)
}

func (a *API) SessionsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")

	// /api/sessions or /api/sessions/
	if path == "" || path == "/" {
		a.ListSessionsHandler(w, r)
		return
	}

	a.GetSessionHandler(w, r)
}

// Version handlers

type CreateVersionRequest struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	CreatedBy   string `json:"created_by"`
}

type VersionResponse struct {
	ID          int       `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content,omitempty"` // Omit in list view
	ContentHash string    `json:"content_hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	IsAuto      bool      `json:"is_auto"`
}

// ListVersionsHandler returns the version history for a session
func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "session_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	versions, err := a.database.ListVersions(sessionID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}

	response := make([]VersionResponse, len(versions))
	for i, v := range versions {
		response[i] = VersionResponse{
			ID:          v.ID,
			SessionID:   v.SessionID,
			Name:        v.Name,
			Description: v.Description,
			ContentHash: v.ContentHash,
			CreatedBy:   v.CreatedBy,
			CreatedAt:   v.CreatedAt,
			IsAuto:      v.IsAuto,
		}
	}

	total, _ := a.database.GetVersionCount(sessionID)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"versions": response,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) CreateVersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SessionID == "" {
		errorResponse(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Content == "" {
		// Fall back to the session's live snapshot when none is supplied.
		if s, ok := a.registry.Get(req.SessionID); ok {
			if snap, ok := s.Snapshot(); ok {
				req.Content = string(snap)
			}
		}
		if req.Content == "" {
			errorResponse(w, http.StatusBadRequest, "content is required")
			return
		}
	}

	v, err := a.database.CreateVersion(req.SessionID, req.Name, req.Description, req.Content, req.CreatedBy, false)
	if err != nil || v == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create version")
		return
	}

	jsonResponse(w, http.StatusCreated, VersionResponse{
		ID:          v.ID,
		SessionID:   v.SessionID,
		Name:        v.Name,
		Description: v.Description,
		Content:     v.Content,
		ContentHash: v.ContentHash,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		IsAuto:      v.IsAuto,
	})
}

func (a *API) GetVersionHandler(w http.ResponseWriter, r *http.Request, id int) {
	v, err := a.database.GetVersion(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get version")
		return
	}
	if v == nil {
		errorResponse(w, http.StatusNotFound, "Version not found")
		return
	}

	jsonResponse(w, http.StatusOK, VersionResponse{
		ID:          v.ID,
		SessionID:   v.SessionID,
		Name:        v.Name,
		Description: v.Description,
		Content:     v.Content,
		ContentHash: v.ContentHash,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		IsAuto:      v.IsAuto,
	})
}

func (a *API) DeleteVersionHandler(w http.ResponseWriter, r *http.Request, id int) {
	if err := a.database.DeleteVersion(id); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete version")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "Version deleted"})
}

func (a *API) VersionsRouter(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Version history disabled")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/versions")

	// /api/versions or /api/versions/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListVersionsHandler(w, r)
		case http.MethodPost:
			a.CreateVersionHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/versions/{id}
	id, err := strconv.Atoi(strings.Trim(path, "/"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid version ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.GetVersionHandler(w, r, id)
	case http.MethodDelete:
		a.DeleteVersionHandler(w, r, id)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
