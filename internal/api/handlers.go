// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/outbound"
	"github.com/parley-chat/parley/internal/session"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// sendRequest is the shared body for the /send endpoints. Text sends use
// Text; file and voice sends use Path (a file readable by the gateway
// process) plus an optional Caption.
type sendRequest struct {
	Target  string `json:"target"`
	Text    string `json:"text,omitempty"`
	Path    string `json:"path,omitempty"`
	Caption string `json:"caption,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"session_state": string(s.session.GetStatus().State),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.GetStatus())
}

// handleQR serves the pending pairing challenge. 404 when none is pending:
// either the session is past pairing or initialization has not started.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code, ok := s.session.Challenge()
	if !ok {
		writeError(w, http.StatusNotFound, "no pairing challenge pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qr": code})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Initialize(r.Context()); err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.session.GetStatus())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Disconnect(); err != nil {
		if errors.Is(err, session.ErrInvalidState) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.GetStatus())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.session.GetStatus())
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations()
	if err != nil {
		logging.Error().Err(err).Msg("failed to list conversations")
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSend(w, r)
	if !ok {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	res, err := s.dispatcher.SendText(r.Context(), req.Target, req.Text)
	writeSendResult(w, res, err)
}

func (s *Server) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSend(w, r)
	if !ok {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := s.dispatcher.SendFile(r.Context(), req.Target, req.Path, req.Caption)
	writeSendResult(w, res, err)
}

func (s *Server) handleSendVoice(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSend(w, r)
	if !ok {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := s.dispatcher.SendVoice(r.Context(), req.Target, req.Path)
	writeSendResult(w, res, err)
}

// decodeSend parses and minimally validates a send body.
func decodeSend(w http.ResponseWriter, r *http.Request) (sendRequest, bool) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return req, false
	}
	return req, true
}

// writeSendResult maps dispatcher outcomes to HTTP statuses. A transport
// rejection still carries a Result body so callers see the failure reason.
func writeSendResult(w http.ResponseWriter, res *outbound.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, outbound.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outbound.ErrInvalidTarget), errors.Is(err, outbound.ErrPathNotAllowed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, outbound.ErrSendFailed) && res != nil:
		writeJSON(w, http.StatusBadGateway, res)
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
