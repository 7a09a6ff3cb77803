package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voltgrid/voltgrid-core/internal/provisioning"
)

// handleListCodes returns all issued registration codes.
// GET /api/v1/registration-codes
func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.provisioning.ListRegistrationCodes(r.Context())
	if err != nil {
		s.logger.Error("listing registration codes failed", "error", err)
		writeProvisioningError(w, err)
		return
	}
	if codes == nil {
		codes = []provisioning.RegistrationCode{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"codes": codes,
		"count": len(codes),
	})
}

// handleGenerateCode issues a new registration code.
// POST /api/v1/registration-codes
func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var req provisioning.CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	code, err := s.provisioning.GenerateRegistrationCode(r.Context(), req)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

// handleCodeQR renders a code's registration URL as a PNG QR image.
// GET /api/v1/registration-codes/{code}/qr
func (s *Server) handleCodeQR(w http.ResponseWriter, r *http.Request) {
	png, err := s.provisioning.CodeQR(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(png)
}

// handleValidateCode checks a code without consuming a use. The response
// always carries a reason, including for valid codes.
// GET /api/v1/registration-codes/{code}/validate
func (s *Server) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	v, err := s.provisioning.ValidateRegistrationCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleRegisterWithCode redeems a registration code for a new device.
// POST /api/v1/registration-codes/{code}/register
func (s *Server) handleRegisterWithCode(w http.ResponseWriter, r *http.Request) {
	var nd provisioning.NewDevice
	if err := json.NewDecoder(r.Body).Decode(&nd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.provisioning.RegisterDeviceWithCode(r.Context(), chi.URLParam(r, "code"), nd)
	if err != nil {
		writeProvisioningError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}
