package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/dispatch"
	"github.com/controlface/deploy-console/internal/registry"
	"github.com/controlface/deploy-console/internal/storage"
)

// ========== Tenant handlers ==========

// HandleListTenants lists tenants
func (s *RESTServer) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenants": tenants,
		"total":   len(tenants),
	})
}

// HandleGetTenant gets a tenant
func (s *RESTServer) HandleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, tenant)
}

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
		"views":  s.views.Len(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "ControlFace Deploy Console",
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
		"message": "Unlock with POST /api/v1/auth/unlock, then use /api/v1/console",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with an error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondRegistryError maps registry and dispatch errors to responses
func (s *RESTServer) respondRegistryError(w http.ResponseWriter, err error) {
	var dispatchErr *dispatch.Error
	var writeErr *registry.StorageWriteError

	switch {
	case errors.As(err, &dispatchErr):
		s.respondError(w, dispatchErr.HTTPStatus(), dispatchErr.Message())
	case errors.Is(err, registry.ErrInvalidForm),
		errors.Is(err, registry.ErrNotConfirmed),
		errors.Is(err, registry.ErrEmptySelection):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrUnknownTenant):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrFormClosed):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrSessionRevoked):
		s.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, registry.ErrClosed):
		s.respondError(w, http.StatusGone, err.Error())
	case errors.As(err, &writeErr):
		s.respondError(w, http.StatusInternalServerError, writeErr.Error())
	default:
		log.Error().Err(err).Msg("Unhandled console error")
		s.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
