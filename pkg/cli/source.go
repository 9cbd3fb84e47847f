package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/platinummonkey/crew/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// sourceFlags selects where permission data is read from: a YAML fixture for
// offline inspection or a live Postgres database
type sourceFlags struct {
	fixture *string
	dbURL   *string
	verbose *bool
}

func addSourceFlags(flags *flag.FlagSet) sourceFlags {
	return sourceFlags{
		fixture: flags.String("fixture", "", "YAML fixture with users, roles and memberships"),
		dbURL:   flags.String("db", os.Getenv("CREW_DATABASE_URL"), "Postgres connection URL"),
		verbose: flags.Bool("v", false, "Log data-integrity issues at debug detail"),
	}
}

// checker builds a permission checker over the selected source. The returned
// close function must be called when done.
func (s sourceFlags) checker(ctx context.Context) (*rbac.Checker, func(), error) {
	logger := newLogger(*s.verbose)

	store, closeFn, err := s.store(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rbac.NewChecker(store, rbac.WithIssueReporter(issueReporter(logger))), closeFn, nil
}

func (s sourceFlags) store(ctx context.Context) (rbac.Storage, func(), error) {
	switch {
	case *s.fixture != "":
		f, err := os.Open(*s.fixture)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open fixture: %w", err)
		}
		defer f.Close()

		store := rbac.NewMemoryStore()
		if err := store.LoadFixture(f); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case *s.dbURL != "":
		db, err := openDB(ctx, *s.dbURL)
		if err != nil {
			return nil, nil, err
		}
		return rbac.NewSQLStore(db), func() { db.Close() }, nil

	default:
		return nil, nil, errors.New("one of -fixture or -db is required")
	}
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// issueReporter surfaces integrity problems found while answering a query.
// The answer itself already treats the bad input as granting nothing.
func issueReporter(logger logrus.FieldLogger) rbac.IssueReporter {
	return func(_ context.Context, issue rbac.Issue) {
		entry := logger.WithFields(logrus.Fields{
			"kind":       issue.Kind,
			"source":     issue.Source,
			"user_id":    issue.UserID,
			"project_id": issue.ProjectID,
		})
		if issue.RoleID != 0 {
			entry = entry.WithField("role_id", issue.RoleID)
		}
		if len(issue.Detail) > 0 {
			entry = entry.WithField("detail", strings.Join(issue.Detail, ","))
		}
		if issue.Err != nil {
			entry = entry.WithError(issue.Err)
		}
		entry.Warn("permission data issue")
	}
}

// parsePermissions splits a comma-separated list and rejects unknown names
func parsePermissions(value string) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, ok := rbac.ParsePermission(part)
		if !ok {
			return nil, fmt.Errorf("unknown permission %q", part)
		}
		perms = append(perms, p)
	}
	if len(perms) == 0 {
		return nil, errors.New("-perm is required")
	}
	return perms, nil
}

type idFlag struct {
	name  string
	value int64
}

func requireIDs(ids ...idFlag) error {
	for _, id := range ids {
		if id.value <= 0 {
			return fmt.Errorf("-%s is required", id.name)
		}
	}
	return nil
}

func printDecision(allowed bool) error {
	if allowed {
		fmt.Println("allowed")
		return nil
	}
	fmt.Println("denied")
	return ErrDenied
}
