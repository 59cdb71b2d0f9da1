package prefsync

import (
	"errors"
	"fmt"
)

// Outcome is the result of a user-initiated preference write.
type Outcome int

const (
	// OutcomeSynced means the backend confirmed the write and the local
	// cache now holds it.
	OutcomeSynced Outcome = iota + 1
	// OutcomeQueued means the write was queued without contacting the
	// backend, because the network was unusable or the caller gave up.
	OutcomeQueued
	// OutcomeFailed means the backend call failed and the write was queued.
	OutcomeFailed
	// OutcomeRejected means the write was invalid and nothing was done.
	OutcomeRejected
)

// Outcomes lists every Outcome value.
var Outcomes = []Outcome{OutcomeSynced, OutcomeQueued, OutcomeFailed, OutcomeRejected}

func (o Outcome) String() string {
	switch o {
	case OutcomeSynced:
		return "synced"
	case OutcomeQueued:
		return "queued"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ErrOffline is returned when an operation needs the network and it is not
// usable. Writes that return it have been queued.
var ErrOffline = errors.New("network unavailable")

// ErrNotificationNotFound is returned by MarkAsRead for an unknown ID.
var ErrNotificationNotFound = errors.New("notification not found")

// SyncError reports a remote write that failed and was queued for retry.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: queued for retry: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
