package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrSubmissionFailed    = errors.New("job submission failed")
	ErrPersistenceFailed   = errors.New("job accepted by provider but could not be recorded")
	ErrInvalidAmount       = errors.New("amount must be non-negative")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobTerminal         = errors.New("job already finished")
	ErrDuplicateReference  = errors.New("reference already applied")
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded")
)

// ReconcileError is a transient failure while folding one job's provider
// state into the local row. It is logged and counted, never shown to users.
type ReconcileError struct {
	JobID uuid.UUID
	Stage string
	Err   error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile job %s (%s): %v", e.JobID, e.Stage, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
