package projects

import (
	"context"
	"strings"

	"github.com/platinummonkey/crew/pkg/contextkeys"
	"github.com/platinummonkey/crew/pkg/observability"
	"github.com/platinummonkey/crew/pkg/rbac"
)

// NewIssueLogger returns an rbac.IssueReporter that logs each issue as a warning
// with the request-scoped logger when one is present, and counts it.
func NewIssueLogger(logger *observability.Logger, metrics *observability.Metrics) rbac.IssueReporter {
	return func(ctx context.Context, issue rbac.Issue) {
		metrics.IntegrityIssue(string(issue.Kind), issue.Source)

		log := logger
		if reqLogger, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok {
			log = reqLogger
		}
		if log == nil {
			return
		}

		log = log.WithField("kind", string(issue.Kind)).
			WithField("source", issue.Source).
			WithField("user_id", issue.UserID).
			WithField("project_id", issue.ProjectID).
			WithField("role_id", issue.RoleID)
		if len(issue.Detail) > 0 {
			log = log.WithField("detail", strings.Join(issue.Detail, ","))
		}
		if issue.Err != nil {
			log = log.WithError(issue.Err)
		}
		log.Warn("Permission data issue; access denied for affected entries")
	}
}
