package api

import (
	"net/http"
	"time"

	"github.com/alecgard/rolewarden/internal/lifecycle"
	"github.com/go-chi/chi/v5"
)

// trialsHandler groups trial-related HTTP handlers.
type trialsHandler struct {
	ctrl Controller
}

func newTrialsHandler(ctrl Controller) *trialsHandler {
	return &trialsHandler{ctrl: ctrl}
}

type trialView struct {
	UserID    string     `json:"user_id,omitempty"`
	State     string     `json:"state"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Remaining string     `json:"remaining,omitempty"`
	Revoked   bool       `json:"revoked,omitempty"`
}

// ListTrials handles GET /api/v1/admin/trials.
func (h *trialsHandler) ListTrials(w http.ResponseWriter, r *http.Request) {
	reports, err := h.ctrl.TrialStatuses(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]trialView, len(reports))
	for i, rep := range reports {
		views[i] = trialView{
			UserID:    rep.UserID,
			State:     rep.State.String(),
			StartTime: rep.StartTime,
		}
		if rep.State == lifecycle.TrialActive {
			views[i].Remaining = rep.Remaining.Round(time.Second).String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trials": views})
}

// GetTrial handles GET /api/v1/admin/trials/{userID}. The read has the
// same side effect as a member check: an expired trial still holding
// the role loses it here.
func (h *trialsHandler) GetTrial(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id is required")
		return
	}

	status, err := h.ctrl.CheckTrial(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	view := trialView{
		UserID:  userID,
		State:   status.State.String(),
		Revoked: status.Revoked,
	}
	if status.State != lifecycle.TrialNotApplied {
		view.StartTime = &status.StartTime
		view.EndTime = &status.EndTime
	}
	if status.State == lifecycle.TrialActive {
		view.Remaining = status.Remaining.Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, view)
}

// Sweep handles POST /api/v1/admin/trials/sweep.
func (h *trialsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ctrl.SweepNow(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "sweep", "trial", "all",
		"checked", summary.Checked, "removed", summary.Removed, "failed", summary.Failed)

	writeJSON(w, http.StatusOK, summary)
}

// DeleteTrial handles DELETE /api/v1/admin/trials/{userID}. This
// restores the member's trial eligibility.
func (h *trialsHandler) DeleteTrial(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id is required")
		return
	}

	if err := h.ctrl.DeleteTrial(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}

	auditLog(r, "delete", "trial", userID)

	w.WriteHeader(http.StatusNoContent)
}
