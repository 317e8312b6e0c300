package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forensiq/wacapture/internal/session"
)

type startRequest struct {
	ClientReference string `json:"clientReference"`
	AuthMode        string `json:"authMode"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
	AuthMode  string `json:"authMode"`
}

type statusResponse struct {
	SessionID  string    `json:"sessionId"`
	State      string    `json:"state"`
	Credential string    `json:"credential,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type listItem struct {
	SessionID       string    `json:"sessionId"`
	ClientReference string    `json:"clientReference"`
	State           string    `json:"state"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.opts.Manager.Start(r.Context(), session.StartParams{
		ClientReference: req.ClientReference,
		AuthMode:        session.AuthMode(req.AuthMode),
		PhoneNumber:     req.PhoneNumber,
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidRequest) {
			writeBadRequest(w, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start session"})
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: snap.ID,
		AuthMode:  string(snap.AuthMode),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:  snap.ID,
		State:      string(snap.State),
		Credential: snap.Credential,
		Error:      snap.LastError,
		CreatedAt:  snap.CreatedAt,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.opts.Manager.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.opts.Manager.List()
	items := make([]listItem, 0, len(snaps))
	for _, snap := range snaps {
		items = append(items, listItem{
			SessionID:       snap.ID,
			ClientReference: snap.ClientReference,
			State:           string(snap.State),
			CreatedAt:       snap.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}
