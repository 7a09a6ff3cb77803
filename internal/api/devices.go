package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voltgrid/voltgrid-core/internal/provisioning"
)

// handleListDevices returns all registered devices.
// GET /api/v1/devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.provisioning.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeProvisioningError(w, err)
		return
	}
	if devices == nil {
		devices = []provisioning.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleRegisterDevice registers a new device directly (no code).
// POST /api/v1/devices
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var nd provisioning.NewDevice
	if err := json.NewDecoder(r.Body).Decode(&nd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.provisioning.RegisterDevice(r.Context(), nd)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

// handleGetDevice returns one device by UID.
// GET /api/v1/devices/{uid}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.provisioning.GetDevice(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleUpdateDevice applies partial updates to a device.
// PATCH /api/v1/devices/{uid}
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var upd provisioning.DeviceUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.provisioning.UpdateDevice(r.Context(), chi.URLParam(r, "uid"), upd)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleDeviceHistory returns a device's provisioning audit trail.
// GET /api/v1/devices/{uid}/history
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	device, err := s.provisioning.GetDevice(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	history, err := s.provisioning.DeviceHistory(r.Context(), device.ID)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	if history == nil {
		history = []provisioning.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// handleListDeviceCredentials returns a device's stored credential
// records. Secrets are redacted by the type's JSON tags.
// GET /api/v1/devices/{uid}/credentials
func (s *Server) handleListDeviceCredentials(w http.ResponseWriter, r *http.Request) {
	device, err := s.provisioning.GetDevice(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	creds, err := s.provisioning.DeviceCredentials(r.Context(), device.ID)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	if creds == nil {
		creds = []provisioning.Credentials{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": creds})
}

// createCredentialsRequest is the body for credential issuance.
type createCredentialsRequest struct {
	AuthMethod provisioning.AuthMethod `json:"auth_method"`
}

// handleCreateDeviceCredentials issues new credentials for a device.
// The response carries the plaintext material exactly once.
// POST /api/v1/devices/{uid}/credentials
func (s *Server) handleCreateDeviceCredentials(w http.ResponseWriter, r *http.Request) {
	var req createCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.provisioning.GetDevice(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	issued, err := s.provisioning.CreateDeviceCredentials(r.Context(), device.ID, req.AuthMethod)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

// applyTemplateRequest is the body for template application.
type applyTemplateRequest struct {
	TemplateID int64 `json:"template_id"`
}

// handleApplyTemplate applies a provisioning template to a device.
// POST /api/v1/devices/{uid}/apply-template
func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var req applyTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.provisioning.GetDevice(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	issued, err := s.provisioning.ApplyTemplate(r.Context(), device.ID, req.TemplateID)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	updated, err := s.provisioning.GetDevice(r.Context(), device.UID)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device":      updated,
		"credentials": issued,
	})
}
