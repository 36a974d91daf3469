package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-nuki/internal/auth"
	"github.com/nerrad567/gray-logic-nuki/internal/bridges/nuki"
	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// LockResponse is one lock as returned by the API.
type LockResponse struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	lock.Snapshot
}

// CommandResponse is returned by the lock command endpoints.
type CommandResponse struct {
	EntityID string        `json:"entity_id"`
	Command  string        `json:"command"`
	Status   string        `json:"status"`
	Lock     *LockResponse `json:"lock"`
}

type lockNGoRequest struct {
	Unlatch bool `json:"unlatch"`
}

func toLockResponse(es nuki.EntityState) LockResponse {
	state := "unlocked"
	switch {
	case !es.Available:
		state = "unavailable"
	case es.Locked:
		state = "locked"
	}

	return LockResponse{
		EntityID: es.EntityID,
		State:    state,
		Attributes: map[string]any{
			nuki.AttrName:            es.Name,
			nuki.AttrIsLocked:        es.Locked,
			nuki.AttrAvailable:       es.Available,
			nuki.AttrBatteryCritical: es.BatteryCritical,
			nuki.AttrNukiID:          es.NukiID,
		},
		Snapshot: es.Snapshot,
	}
}

// handleListLocks returns every managed lock's cached state.
func (s *Server) handleListLocks(w http.ResponseWriter, _ *http.Request) {
	entities := s.locks.Entities()
	locks := make([]LockResponse, 0, len(entities))
	for _, es := range entities {
		locks = append(locks, toLockResponse(es))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"locks": locks,
		"count": len(locks),
	})
}

// handleGetLock returns one lock's cached state.
func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	es, ok := s.locks.Entity(id)
	if !ok {
		writeNotFound(w, "lock not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, toLockResponse(es))
}

// handleLockCommand runs lock, unlock or open, named by the last path element.
func (s *Server) handleLockCommand(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, path.Base(r.URL.Path), false)
}

// handleLockNGo runs lock'n'go with an optional {"unlatch": true} body.
// Unlatching additionally requires the open permission.
func (s *Server) handleLockNGo(w http.ResponseWriter, r *http.Request) {
	var req lockNGoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	s.runCommand(w, r, lock.CommandLockNGo, req.Unlatch)
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, command string, unlatch bool) {
	if command == lock.CommandLockNGo && unlatch {
		if err := s.authorize(r.Context(), auth.PermLockOpen); err != nil {
			writeForbidden(w, err.Error())
			return
		}
	}

	id := chi.URLParam(r, "id")
	source := nuki.SourceAPI
	if sub := subjectFromContext(r.Context()); sub != "" {
		source = nuki.SourceAPI + ":" + sub
	}

	snap, err := s.locks.Execute(r.Context(), id, command, unlatch, source)
	if err != nil {
		if !errors.Is(err, nuki.ErrEntityNotFound) {
			s.logger.Warn("lock command failed via API",
				"entity_id", id,
				"command", command,
				"error", err,
				"request_id", r.Context().Value(ctxKeyRequestID))
		}
		writeBridgeError(w, err)
		return
	}

	resp := toLockResponse(nuki.EntityState{EntityID: id, Snapshot: snap})

	writeJSON(w, http.StatusOK, CommandResponse{
		EntityID: id,
		Command:  command,
		Status:   "completed",
		Lock:     &resp,
	})
}

// handleListServices returns the registered services as domain.service.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services": s.locks.Services(),
	})
}

// handleCallService invokes a nuki service with the JSON body as its data.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	service := chi.URLParam(r, "service")
	if domain != nuki.Domain {
		writeNotFound(w, "unknown service domain: "+domain)
		return
	}

	data := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.locks.CallService(r.Context(), service, data); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": domain + "." + service,
		"status":  "completed",
	})
}
