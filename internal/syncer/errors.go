package syncer

import (
	"errors"
	"fmt"

	"github.com/rebootcamp/attendsync/internal/schema"
)

var (
	// ErrNoRemote is returned by Deliver when no remote backend is configured.
	ErrNoRemote = errors.New("no remote backend configured")

	// ErrUnknownOperation marks a queue item whose operation has no replay handler.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrCorruptPayload marks a queue item whose payload cannot be decoded.
	ErrCorruptPayload = errors.New("corrupt payload")

	// ErrDuplicateRemote marks a check-in the remote already holds an open check-in for.
	ErrDuplicateRemote = errors.New("child already checked in on remote")

	// ErrStore wraps local store failures returned by Flush and Deliver.
	// Remote failures never carry it.
	ErrStore = errors.New("local store failure")

	// ErrCheckInPending delays a checkout until the check-ins it closes are delivered.
	ErrCheckInPending = errors.New("check-in not yet delivered")

	// ErrCheckInFailed parks a checkout whose check-ins were parked as failed.
	// Resetting failed items retries both, check-ins first.
	ErrCheckInFailed = errors.New("check-in parked as failed")

	// ErrCheckoutPending delays a check-in while an older queued checkout still
	// has to close the child's previous remote row.
	ErrCheckoutPending = errors.New("earlier checkout not yet delivered")

	// ErrQueueBacklog is returned by Deliver when more older items are pending
	// than one batch can drain.
	ErrQueueBacklog = errors.New("older queue items not yet delivered")
)

// PermanentError is a replay failure that will not succeed on retry.
// The item is parked as failed until an administrative reset.
type PermanentError struct {
	QueueID   int64
	Operation schema.Operation
	Err       error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("queue item %d (%s): %v", e.QueueID, e.Operation, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func permanent(item *schema.QueueItem, err error) error {
	return &PermanentError{QueueID: item.ID, Operation: item.Operation, Err: err}
}

// IsPermanent reports whether err should park the item instead of retrying.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
