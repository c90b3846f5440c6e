package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/switchboard/internal/models"
)

var (
	// ErrNotFound is returned for missing conversations. It is the shared
	// models sentinel so callers need not know which store they talk to.
	ErrNotFound = models.ErrNotFound

	// ErrAlreadyExists is returned when a conversation id is taken.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrInvalidRecord is returned when a record violates a field
	// assertion or type in the schema, such as an unknown message sender.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrTransactionConflict is returned when concurrent writes touch the
	// same records; the write can be retried.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// queryErrorKinds maps fragments of SurrealDB query error messages to
// sentinels. The first match wins.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrAlreadyExists},
	{"must conform to", ErrInvalidRecord},
	{"couldn't coerce", ErrInvalidRecord},
	{"transaction conflict", ErrTransactionConflict},
}

// wrapQueryError tags SurrealDB query errors with a sentinel. Errors that are
// not query errors, or that match no known kind, are returned unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	msg := strings.ToLower(queryErr.Message)
	for _, k := range queryErrorKinds {
		if strings.Contains(msg, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, queryErr.Message)
		}
	}
	return err
}
