package queue

import (
	"errors"

	"github.com/maauso/mediaqueue/internal/store"
)

// ErrInvalidTransition names a state change the job lifecycle does not
// permit (spec §4.E state machine). The Manager does not return it: Retry
// and CancelCurrent treat a disallowed change as a no-op.
var ErrInvalidTransition = errors.New("queue: invalid job state transition")

var validTransitions = map[store.Status][]store.Status{
	store.StatusPending:    {store.StatusProcessing},
	store.StatusProcessing: {store.StatusCompleted, store.StatusFailed, store.StatusPending},
	store.StatusCompleted:  {},
	store.StatusFailed:     {store.StatusPending},
}

func canTransition(from, to store.Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
