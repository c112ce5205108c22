package blackboard

import (
	"errors"
	"fmt"

	"github.com/dyluth/reelforge/internal/lock"
)

// Sentinel errors returned by blackboard operations.
var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrShotNotFound     = errors.New("shot not found")
	ErrProjectExists    = errors.New("project already exists")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrGatePending      = errors.New("a human gate request is already pending for the project")

	// ErrVersionConflict means the durable row moved underneath a locked writer,
	// which only happens if the lock was lost mid-write.
	ErrVersionConflict = errors.New("project version conflict")
)

// NotFoundError carries the identifier of a missing project or shot.
// It matches ErrProjectNotFound or ErrShotNotFound via errors.Is.
type NotFoundError struct {
	Kind string // "project" or "shot"
	ID   string
	err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.err
}

func projectNotFound(id string) error {
	return &NotFoundError{Kind: "project", ID: id, err: ErrProjectNotFound}
}

func shotNotFound(id string) error {
	return &NotFoundError{Kind: "shot", ID: id, err: ErrShotNotFound}
}

// IsNotFound returns true for missing projects and shots.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrShotNotFound)
}

// IsRetryable returns true for lock contention or timeout; callers should
// retry or degrade.
func IsRetryable(err error) bool {
	return errors.Is(err, lock.ErrLockAcquisition)
}
