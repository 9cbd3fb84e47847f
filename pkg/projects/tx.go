package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/platinummonkey/crew/pkg/projects")

// SQLSTATE codes Postgres uses when a serializable transaction loses a conflict
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// withTx runs fn in a serializable transaction, retrying the whole function when
// Postgres aborts it with a serialization conflict. fn must not have side effects
// outside tx.
func (s *Service) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) (err error) {
	ctx, span := tracer.Start(ctx, "projects."+operation)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		}
		span.End()
	}()

	for attempt := 0; ; attempt++ {
		span.SetAttributes(attribute.Int("tx.attempt", attempt+1))
		err = s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= s.maxRetries {
			return err
		}

		s.metrics.TransactionRetry(operation)
		s.logger.WithField("operation", operation).
			WithField("attempt", attempt+1).
			WithError(err).
			Debug("Retrying serializable transaction")

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}

func (s *Service) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == serializationFailure || pqErr.Code == deadlockDetected
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
