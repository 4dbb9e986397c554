// Package api exposes the engine over HTTP: a small REST surface for
// files, access grants, and room introspection, plus the WebSocket
// endpoint that carries the collaboration protocol.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/quillshare/collab-engine/internal/auth"
	"github.com/quillshare/collab-engine/internal/docstore"
	"github.com/quillshare/collab-engine/internal/registry"
)

// Server handles HTTP requests for the collaboration API.
type Server struct {
	registry  *registry.Registry
	store     docstore.Store
	authz     auth.Authorizer
	grants    auth.Store // nil when running with open access
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	queueSize int
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Registry *registry.Registry
	Store    docstore.Store
	Auth     auth.Authorizer
	Grants   auth.Store

	HeartbeatInterval time.Duration
	SendQueueSize     int
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	return &Server{
		registry: cfg.Registry,
		store:    cfg.Store,
		authz:    cfg.Auth,
		grants:   cfg.Grants,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Browser clients connect from any origin
			},
		},
		heartbeat: cfg.HeartbeatInterval,
		queueSize: cfg.SendQueueSize,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/projects/{projectId}/files/{fileId}", s.handleCreateFile).Methods(http.MethodPost)
	authed.HandleFunc("/projects/{projectId}/access/{participantId}", s.handleGrantAccess).Methods(http.MethodPost)
	authed.HandleFunc("/projects/{projectId}/access/{participantId}", s.handleRevokeAccess).Methods(http.MethodDelete)
	authed.HandleFunc("/rooms", s.handleListRooms).Methods(http.MethodGet)
	authed.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	return r
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateFileRequest is the request body for creating a file.
type CreateFileRequest struct {
	Content string `json:"content"`
}

// CreateFileResponse is the response body for creating a file.
type CreateFileResponse struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId"`
}

// handleCreateFile handles POST /projects/{projectId}/files/{fileId}.
func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID, fileID := vars["projectId"], vars["fileId"]

	participantID := ParticipantIDFromContext(r.Context())

	ok, err := s.authz.CheckAccess(r.Context(), participantID, projectID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	if !ok {
		http.Error(w, "access denied", http.StatusForbidden)

		return
	}

	// An empty body creates an empty file.
	var req CreateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := s.store.CreateFile(r.Context(), fileID, req.Content); err != nil {
		if errors.Is(err, docstore.ErrFileExists) {
			http.Error(w, "file already exists", http.StatusConflict)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusCreated, CreateFileResponse{ProjectID: projectID, FileID: fileID})
}

// GrantAccessRequest is the request body for granting project access.
type GrantAccessRequest struct {
	Level string `json:"level"`
}

// handleGrantAccess handles POST /projects/{projectId}/access/{participantId}.
func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	if s.grants == nil {
		http.Error(w, "access management disabled", http.StatusNotImplemented)

		return
	}

	vars := mux.Vars(r)
	projectID, participantID := vars["projectId"], vars["participantId"]

	var req GrantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	level := auth.LevelEditor

	switch req.Level {
	case "", "editor":
	case "viewer":
		level = auth.LevelViewer
	default:
		http.Error(w, "unknown access level", http.StatusBadRequest)

		return
	}

	if err := s.grants.Grant(participantID, projectID, level); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeAccess handles DELETE /projects/{projectId}/access/{participantId}.
func (s *Server) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	if s.grants == nil {
		http.Error(w, "access management disabled", http.StatusNotImplemented)

		return
	}

	vars := mux.Vars(r)

	if err := s.grants.Revoke(vars["participantId"], vars["projectId"]); err != nil {
		if errors.Is(err, auth.ErrGrantNotFound) {
			http.Error(w, "grant not found", http.StatusNotFound)

			return
		}

		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListRooms handles GET /rooms.
func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Rooms())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
