package api

import (
	"net/http"
	"time"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/go-chi/chi/v5"
)

// grantsHandler groups role-grant HTTP handlers.
type grantsHandler struct {
	ctrl Controller
}

func newGrantsHandler(ctrl Controller) *grantsHandler {
	return &grantsHandler{ctrl: ctrl}
}

type issueGrantInput struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
	// DurationDays overrides the role's configured default when set.
	DurationDays *int `json:"duration_days,omitempty"`
}

// IssueGrant handles POST /api/v1/admin/grants.
func (h *grantsHandler) IssueGrant(w http.ResponseWriter, r *http.Request) {
	var input issueGrantInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if input.UserID == "" || input.RoleID == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "user_id and role_id are required")
		return
	}

	g, err := h.ctrl.IssueGrant(r.Context(), input.UserID, input.RoleID, input.DurationDays)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "issue", "grant", input.RoleID, "user_id", input.UserID, "days", g.DurationDays)

	writeJSON(w, http.StatusCreated, g)
}

// ListActiveGrants handles GET /api/v1/admin/grants.
func (h *grantsHandler) ListActiveGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.ctrl.ActiveGrants(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
}

type grantReportView struct {
	*grant.RoleGrant
	Active    bool   `json:"active"`
	Remaining string `json:"remaining,omitempty"`
}

// MemberGrants handles GET /api/v1/admin/members/{userID}/grants.
func (h *grantsHandler) MemberGrants(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id is required")
		return
	}

	reports, err := h.ctrl.MemberGrants(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]grantReportView, len(reports))
	for i, rep := range reports {
		views[i] = grantReportView{RoleGrant: rep.Grant, Active: rep.Active}
		if rep.Active {
			views[i].Remaining = rep.Remaining.Round(time.Second).String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"grants": views})
}
