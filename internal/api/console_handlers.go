package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/controlface/deploy-console/internal/registry"
)

// ========== Console handlers ==========

// HandleGetConsole returns the operator's view
func (s *RESTServer) HandleGetConsole(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, viewFromContext(r.Context()).View())
}

// HandleCreateConsoleTenant creates a tenant from a form payload
func (s *RESTServer) HandleCreateConsoleTenant(w http.ResponseWriter, r *http.Request) {
	var form registry.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, err := viewFromContext(r.Context()).Create(r.Context(), form)
	if err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, tenant)
}

// HandleUpdateConsoleTenant overwrites a tenant's form fields
func (s *RESTServer) HandleUpdateConsoleTenant(w http.ResponseWriter, r *http.Request) {
	var form registry.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := viewFromContext(r.Context()).Update(r.Context(), chi.URLParam(r, "id"), form); err != nil {
		s.respondRegistryError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteConsoleTenant deletes a tenant; ?confirm= must carry its name
func (s *RESTServer) HandleDeleteConsoleTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	confirm := r.URL.Query().Get("confirm")

	if err := viewFromContext(r.Context()).Delete(r.Context(), id, confirm); err != nil {
		s.respondRegistryError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeletePrompt returns the delete confirmation text
func (s *RESTServer) HandleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := viewFromContext(r.Context()).DeletePrompt(chi.URLParam(r, "id"))
	if err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"message": prompt})
}

// HandleOpenForm opens the form, for editing when editingId is given
func (s *RESTServer) HandleOpenForm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EditingID string `json:"editingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view := viewFromContext(r.Context())
	if req.EditingID == "" {
		view.OpenCreate()
	} else if err := view.OpenEdit(req.EditingID); err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, view.View().Form)
}

// HandleSetForm replaces the open form's values
func (s *RESTServer) HandleSetForm(w http.ResponseWriter, r *http.Request) {
	var form registry.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view := viewFromContext(r.Context())
	if err := view.SetForm(form); err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, view.View().Form)
}

// HandleCancelForm closes the form
func (s *RESTServer) HandleCancelForm(w http.ResponseWriter, r *http.Request) {
	viewFromContext(r.Context()).CancelForm()
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubmitForm saves the open form. A failure leaves the form open.
func (s *RESTServer) HandleSubmitForm(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())
	if err := view.Save(r.Context()); err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, view.View().Form)
}

// HandleSelectAll sets or clears the whole selection
func (s *RESTServer) HandleSelectAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		All *bool `json:"all"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.All == nil {
		s.respondError(w, http.StatusBadRequest, `"all" must be true or false`)
		return
	}

	view := viewFromContext(r.Context())
	view.SelectAll(*req.All)

	s.respondJSON(w, http.StatusOK, selectionResponse(view))
}

// HandleToggleSelection toggles one tenant
func (s *RESTServer) HandleToggleSelection(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())

	selected, err := view.Toggle(chi.URLParam(r, "id"))
	if err != nil {
		s.respondRegistryError(w, err)
		return
	}

	resp := selectionResponse(view)
	resp["toggled"] = selected
	s.respondJSON(w, http.StatusOK, resp)
}

func selectionResponse(view *registry.Registry) map[string]interface{} {
	return map[string]interface{}{
		"selected":    view.Selected(),
		"allSelected": view.AllSelected(),
	}
}

// HandleDeployPrompt returns the deploy confirmation text
func (s *RESTServer) HandleDeployPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := viewFromContext(r.Context()).DeployPrompt()
	if err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"message": prompt})
}

// HandleConsoleDeploy deploys the selection
func (s *RESTServer) HandleConsoleDeploy(w http.ResponseWriter, r *http.Request) {
	result, err := viewFromContext(r.Context()).Deploy(r.Context())
	if err != nil {
		s.respondRegistryError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}
