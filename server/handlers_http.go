package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jeremygit/gummi-nfc/buildinfo"
)

// HandshakeRequest carries the API secret when one is configured.
type HandshakeRequest struct {
	Secret string `json:"secret"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	})
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   buildinfo.Version,
		"auth":      s.sessions.Enabled(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleHandshake exchanges the API secret for a token (POST) or releases
// the current token (DELETE).
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req HandshakeRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, ErrCodeInvalidPayload, "Invalid handshake request")
				return
			}
		}
		if s.sessions.Enabled() && req.Secret != s.config.APISecret {
			writeJSONError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Unauthorized: Invalid API secret")
			return
		}

		token, err := s.sessions.Acquire(req.Secret, r.Header.Get("Origin"), r.RemoteAddr)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
		if token == "" {
			writeJSONError(w, http.StatusConflict, ErrCodeSessionBusy, "Session already claimed by another client")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token})

	case http.MethodDelete:
		if !s.sessions.Validate(requestToken(r), r.Header.Get("Origin"), r.RemoteAddr) {
			writeJSONError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Unauthorized: missing or invalid token")
			return
		}
		s.sessions.Release()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) controller(w http.ResponseWriter) Controller {
	if s.config.Session == nil {
		writeJSONError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "No tag session controller configured")
	}
	return s.config.Session
}

// handleGetState returns the latest snapshot (GET /api/v1/state)
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w)
	if ctrl == nil {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// handleSetPayload sets the pending write payload (PUT /api/v1/payload)
func (s *Server) handleSetPayload(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w)
	if ctrl == nil {
		return
	}

	var req SetPayloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, ErrCodeInvalidPayload, "Invalid payload request")
		return
	}
	if err := ctrl.SetPendingWritePayload(req.Text); err != nil {
		code, status := errorCode(err)
		writeJSONError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// handleClearBuffer empties the read buffer (POST /api/v1/buffer/clear)
func (s *Server) handleClearBuffer(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w)
	if ctrl == nil {
		return
	}
	if err := ctrl.ClearReadBuffer(); err != nil {
		code, status := errorCode(err)
		writeJSONError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// handleStartSession opens a read or write session (POST /api/v1/session)
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w)
	if ctrl == nil {
		return
	}

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, ErrCodeInvalidPayload, "Invalid session request: "+err.Error())
		return
	}
	if err := ctrl.Start(req.Mode); err != nil {
		code, status := errorCode(err)
		writeJSONError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

// handleCancelSession cancels the live session (POST /api/v1/session/cancel)
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w)
	if ctrl == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": ctrl.Cancel(),
		"state":     ctrl.Snapshot(),
	})
}
