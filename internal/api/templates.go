package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voltgrid/voltgrid-core/internal/provisioning"
)

// handleListTemplates returns all provisioning templates.
// GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.provisioning.ListTemplates(r.Context())
	if err != nil {
		s.logger.Error("listing templates failed", "error", err)
		writeProvisioningError(w, err)
		return
	}
	if templates == nil {
		templates = []provisioning.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// handleCreateTemplate stores a new provisioning template.
// POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl provisioning.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	tpl.IsActive = true

	if err := s.provisioning.CreateTemplate(r.Context(), &tpl); err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// handleGetTemplate returns one template by id.
// GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}

	tpl, err := s.provisioning.GetTemplate(r.Context(), id)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}
