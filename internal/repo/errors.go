package repo

import "errors"

var (
	// ErrNotFound is returned when a tenant-scoped lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a message with the same external id already exists.
	ErrDuplicate = errors.New("duplicate")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
