package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/crew/pkg/httputil"
	"github.com/platinummonkey/crew/pkg/observability"
	"github.com/platinummonkey/crew/pkg/projects"
)

// Error codes carried in the "code" field of error bodies
const (
	CodeInvalidInput      = "invalid_input"
	CodeInvalidPermission = "invalid_permission"
	CodeForbidden         = "forbidden"
	CodeSelfPromotion     = "self_promotion"
	CodeNotFound          = "not_found"
	CodeAlreadyMember     = "already_member"
	CodeLastOwner         = "last_owner"
	CodeLastSystemAdmin   = "last_system_admin"
)

// writeServiceError maps a projects error onto a status and code. Anything
// unrecognised is logged and reported as a 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, projects.ErrInvalidPermission):
		httputil.WriteErrorCode(w, http.StatusBadRequest, CodeInvalidPermission, err.Error())
	case errors.Is(err, projects.ErrInvalidInput):
		httputil.WriteErrorCode(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
	case errors.Is(err, projects.ErrSelfPromotion):
		httputil.WriteErrorCode(w, http.StatusForbidden, CodeSelfPromotion, err.Error())
	case errors.Is(err, projects.ErrForbidden):
		httputil.WriteErrorCode(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, projects.ErrNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, projects.ErrAlreadyMember):
		httputil.WriteErrorCode(w, http.StatusConflict, CodeAlreadyMember, err.Error())
	case errors.Is(err, projects.ErrLastOwner):
		httputil.WriteErrorCode(w, http.StatusConflict, CodeLastOwner, err.Error())
	case errors.Is(err, projects.ErrLastSystemAdmin):
		httputil.WriteErrorCode(w, http.StatusConflict, CodeLastSystemAdmin, err.Error())
	default:
		observability.FromContext(r.Context()).
			WithField("path", r.URL.Path).
			WithError(err).
			Error("Request failed")
		httputil.WriteInternalError(w)
	}
}
