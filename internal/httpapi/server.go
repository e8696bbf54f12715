// Package httpapi is the operator-facing admin surface: create, list,
// delete, toggle, and repair bridge pairs, JWT-authenticated, plus a
// websocket feed of bridge lifecycle events for a live admin dashboard.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/janus-bridge/janus/internal/bridge"
	"github.com/janus-bridge/janus/internal/bridgeerr"
)

// Server wires the chi router for the admin API.
type Server struct {
	router *chi.Mux
	store  *bridge.Store
	auth   *Auth
	feed   *LiveFeed
	log    zerolog.Logger
}

func NewServer(store *bridge.Store, auth *Auth, feed *LiveFeed, log zerolog.Logger) *Server {
	s := &Server{store: store, auth: auth, feed: feed, log: log.With().Str("component", "httpapi").Logger()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/login", s.handleLogin)

	authMW := NewAuthMiddleware(s.auth)
	r.Group(func(r chi.Router) {
		r.Use(authMW.Handle)
		r.Get("/bridges", s.handleList)
		r.Post("/bridges", s.handleCreate)
		r.Delete("/bridges/{id}", s.handleDelete)
		r.Post("/bridges/{id}/toggle", s.handleToggle)
		r.Post("/bridges/repair", s.handleRepair)
		r.Get("/ws", s.feed.ServeWS)
	})

	s.router = r
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	bridges, err := s.store.ListAll(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bridges)
}

type createBridgeRequest struct {
	AChannelID  string `json:"aChannelId"`
	AGuildID    string `json:"aGuildId"`
	BChannelID  string `json:"bChannelId"`
	BGuildID    string `json:"bGuildId"`
	SyncUploads bool   `json:"syncUploads"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.AChannelID == "" || req.BChannelID == "" {
		http.Error(w, "aChannelId and bChannelId are required", http.StatusBadRequest)
		return
	}
	bp, err := s.store.Create(r.Context(), bridge.CreateInput{
		AChannelID: req.AChannelID, AGuildID: req.AGuildID,
		BChannelID: req.BChannelID, BGuildID: req.BGuildID,
		SyncUploads: req.SyncUploads,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	bp, err := s.store.Toggle(r.Context(), id, req.Active)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Repair(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridgeerr.ErrBridgeMissing):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bridgeerr.ErrDuplicateBridge):
		http.Error(w, err.Error(), http.StatusConflict)
	case bridgeerr.Classify(err) == bridgeerr.KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Msg("admin request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
