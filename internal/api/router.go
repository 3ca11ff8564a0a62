package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rewind/internal/fileops"
	"github.com/starford/rewind/internal/undo"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler and wsHandler, if non-nil, are mounted at GET /events and GET /ws
// inside the auth group.
func NewRouter(manager *undo.Manager, ops *fileops.Service, authEnabled bool, token string, sseHandler, wsHandler http.Handler) chi.Router {
	h := NewHandler(manager, ops)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Undo state and actions.
	r.Get("/undo", h.UndoStatus)
	r.Post("/undo", h.Undo)
	r.Post("/undo/stop", h.StopUndo)
	r.Get("/history", h.History)

	// Recorded file operations.
	r.Post("/ops/{type}", h.RunOperation)

	// Event streams (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}
	if wsHandler != nil {
		r.Get("/ws", wsHandler.ServeHTTP)
	}

	return r
}
