package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// rolesHandler groups role-template HTTP handlers.
type rolesHandler struct {
	ctrl Controller
}

func newRolesHandler(ctrl Controller) *rolesHandler {
	return &rolesHandler{ctrl: ctrl}
}

type putRoleConfigInput struct {
	RoleName     string `json:"role_name"`
	DurationDays int    `json:"duration_days"`
}

// PutRoleConfig handles PUT /api/v1/admin/roles/{roleID}.
func (h *rolesHandler) PutRoleConfig(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	if roleID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "role id is required")
		return
	}

	var input putRoleConfigInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	rc, err := h.ctrl.PutRoleConfig(r.Context(), roleID, input.RoleName, input.DurationDays)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "put", "role_config", roleID, "days", input.DurationDays)

	writeJSON(w, http.StatusOK, rc)
}

// ListRoleConfigs handles GET /api/v1/admin/roles.
func (h *rolesHandler) ListRoleConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.ctrl.ListRoleConfigs(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": configs})
}

// DeleteRoleConfig handles DELETE /api/v1/admin/roles/{roleID}.
func (h *rolesHandler) DeleteRoleConfig(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	if roleID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "role id is required")
		return
	}

	if err := h.ctrl.DeleteRoleConfig(r.Context(), roleID); err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "delete", "role_config", roleID)

	w.WriteHeader(http.StatusNoContent)
}
