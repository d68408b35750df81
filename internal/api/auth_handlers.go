package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/auth"
)

// ========== Auth handlers ==========

// HandleUnlock checks the master PIN and opens an operator session
func (s *RESTServer) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.gate.Check(req.PIN); err != nil {
		if errors.Is(err, auth.ErrGateNotConfigured) {
			log.Error().Msg("Unlock attempted but no master PIN is configured")
			s.respondError(w, http.StatusServiceUnavailable, "PIN not configured on the server")
			return
		}
		log.Warn().Str("remote", r.RemoteAddr).Msg("Unlock rejected")
		s.respondError(w, http.StatusUnauthorized, "invalid PIN")
		return
	}

	session, err := s.auth.IssueSession()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	if _, err := s.views.Open(session.ID, session.ExpiresAt); err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      session.Token,
		"expires_in": int(s.auth.TTL().Seconds()),
		"token_type": "Bearer",
	})
}

// HandleLock closes the session's view and revokes its token
func (s *RESTServer) HandleLock(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		s.respondError(w, http.StatusUnauthorized, "missing session")
		return
	}

	s.views.Revoke(claims.SessionID, claims.ExpiresAt.Time)
	w.WriteHeader(http.StatusNoContent)
}
