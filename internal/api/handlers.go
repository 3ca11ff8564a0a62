package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rewind/internal/fileops"
	"github.com/starford/rewind/internal/undo"
)

// Handler holds API route handlers.
type Handler struct {
	manager *undo.Manager
	ops     *fileops.Service
}

// NewHandler creates a new Handler.
func NewHandler(manager *undo.Manager, ops *fileops.Service) *Handler {
	return &Handler{manager: manager, ops: ops}
}

func (h *Handler) status() UndoStatusResponse {
	return UndoStatusResponse{
		Available: h.manager.UndoAvailable(),
		Text:      h.manager.UndoText(),
		Locked:    h.manager.Locked(),
	}
}

// UndoStatus handles GET /api/undo.
//
//	@Summary		Report whether undo is available and its label
//	@Tags			undo
//	@Produce		json
//	@Success		200	{object}	UndoStatusResponse
//	@Security		BearerAuth
//	@Router			/undo [get]
func (h *Handler) UndoStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// Undo handles POST /api/undo. The undo runs in the background; completion
// is reported on the event stream.
//
//	@Summary		Undo the most recent command
//	@Tags			undo
//	@Produce		json
//	@Success		202	{object}	UndoStatusResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/undo [post]
func (h *Handler) Undo(w http.ResponseWriter, _ *http.Request) {
	if err := h.manager.Undo(); err != nil {
		writeError(w, "undo", err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.status())
}

// StopUndo handles POST /api/undo/stop.
//
//	@Summary		Abort the running undo
//	@Tags			undo
//	@Success		204	"Stop requested"
//	@Security		BearerAuth
//	@Router			/undo/stop [post]
func (h *Handler) StopUndo(w http.ResponseWriter, _ *http.Request) {
	if err := h.manager.StopUndo(true); err != nil {
		writeError(w, "stop undo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/history. With format=binary the history is
// returned as an undo.MarshalHistory snapshot, the same bytes the history
// export command writes.
//
//	@Summary		List the undo history, oldest first
//	@Tags			undo
//	@Produce		json
//	@Produce		octet-stream
//	@Param			format	query		string	false	"Response format"	Enums(json, binary)
//	@Success		200		{object}	HistoryResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	cmds := h.manager.History()
	switch r.URL.Query().Get("format") {
	case "", "json":
	case "binary":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		w.Write(undo.MarshalHistory(cmds)) //nolint:errcheck // client gone
		return
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown format"))
		return
	}
	resp := HistoryResponse{Commands: make([]CommandDTO, 0, len(cmds)), Depth: len(cmds)}
	for _, c := range cmds {
		resp.Commands = append(resp.Commands, NewCommandDTO(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunOperation handles POST /api/ops/{type}.
//
//	@Summary		Run a file operation and record it for undo
//	@Tags			ops
//	@Accept			json
//	@Produce		json
//	@Param			type	path		string				true	"Operation"	Enums(copy, move, rename, link, mkdir, trash)
//	@Param			body	body		OperationRequest	true	"Sources and destination"
//	@Success		201		{object}	CommandDTO
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ops/{type} [post]
func (h *Handler) RunOperation(w http.ResponseWriter, r *http.Request) {
	typ, err := undo.ParseCommandType(chi.URLParam(r, "type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown operation"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	cmd, err := h.ops.Run(r.Context(), fileops.Request{
		Type:        typ,
		Sources:     req.Sources,
		Destination: req.Destination,
	})
	if err != nil {
		writeError(w, "run operation", err)
		return
	}
	writeJSON(w, http.StatusCreated, NewCommandDTO(cmd))
}
