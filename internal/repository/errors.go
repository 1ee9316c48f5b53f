package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrStaleRecord reports a compare-and-swap miss: the row changed since it
	// was read.
	ErrStaleRecord = errors.New("record modified concurrently")
	// ErrDuplicateSubmission reports a violation of the one submission per
	// (assignment, student) constraint.
	ErrDuplicateSubmission = errors.New("submission already exists for assignment and student")
	// ErrMissingReference reports an insert pointing at a row that no longer exists.
	ErrMissingReference = errors.New("referenced record does not exist")
	// ErrAssignmentClosed reports a submission insert against an assignment
	// that is no longer published or whose deadline has passed.
	ErrAssignmentClosed = errors.New("assignment does not accept submissions")
)

const (
	submissionUniqueConstraint = "submissions_assignment_student_key"

	pqUniqueViolation     pq.ErrorCode = "23505"
	pqForeignKeyViolation pq.ErrorCode = "23503"
)

// IsTransient reports whether err is a timeout or availability failure that
// leaves no state changed and is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"40", // transaction rollback, includes serialization failures
			"53", // insufficient resources
			"57": // operator intervention, includes query_canceled
			return true
		}
	}
	return false
}

// validID reports whether id can be compared against a uuid column. Lookups
// with anything else are answered as not found without a round trip, so
// postgres never rejects them with invalid_text_representation.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func translateSubmissionInsert(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		if pqErr.Constraint == "" || pqErr.Constraint == submissionUniqueConstraint {
			return ErrDuplicateSubmission
		}
	case pqForeignKeyViolation:
		return ErrMissingReference
	}
	return err
}
