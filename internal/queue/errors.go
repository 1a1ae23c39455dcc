package queue

import "fmt"

// DuplicateCheckInError is returned when a child already has an open check-in for the date.
// It is a validation failure: nothing was written.
type DuplicateCheckInError struct {
	ChildName string
	Date      string
	// ExistingID is the local id of the open record, 0 when the match came from the remote.
	ExistingID int64
}

func (e *DuplicateCheckInError) Error() string {
	return fmt.Sprintf("%s is already checked in on %s", e.ChildName, e.Date)
}
