// Package repository persists projects and generations in PostgreSQL and
// implements the ordered-write points the pipeline depends on: version
// allocation and the pending->processing claim.
package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoPending is returned by ClaimNextPending when the queue is empty.
	ErrNoPending = errors.New("no pending generations")
)
