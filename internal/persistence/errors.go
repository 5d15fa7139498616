// Package persistence holds the storage sentinels shared by the memory and
// SQL stores. The application layer maps them onto its own error kinds.
package persistence

import "errors"

var (
	// ErrNotFound reports a series, occurrence or allocation id with no row.
	ErrNotFound = errors.New("persistence: record not found")
	// ErrDuplicate reports an insert whose id is already taken.
	ErrDuplicate = errors.New("persistence: record already exists")
)
