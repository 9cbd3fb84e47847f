package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/crew/pkg/audit"
	"github.com/platinummonkey/crew/pkg/httputil"
)

// listAudit handles GET /projects/{projectID}/audit
func (h *ProjectHandlers) listAudit(w http.ResponseWriter, r *http.Request) {
	actor, projectID, ok := projectRequest(w, r)
	if !ok {
		return
	}

	filter, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}

	events, err := h.service.ListAudit(r.Context(), actor, projectID, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"events": events})
}

// parseAuditFilter reads event_type (repeatable or comma separated), since and
// until (RFC3339), limit and offset. Malformed values are rejected.
func parseAuditFilter(query url.Values) (audit.SearchFilter, error) {
	var filter audit.SearchFilter

	for _, value := range query["event_type"] {
		for _, et := range strings.Split(value, ",") {
			if et = strings.TrimSpace(et); et != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
			}
		}
	}

	for key, dest := range map[string]**time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		if s := query.Get(key); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return filter, fmt.Errorf("%s must be an RFC3339 timestamp", key)
			}
			*dest = &t
		}
	}

	for key, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if s := query.Get(key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return filter, fmt.Errorf("%s must be a non-negative integer", key)
			}
			*dest = n
		}
	}

	return filter, nil
}
