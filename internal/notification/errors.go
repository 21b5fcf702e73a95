package notification

import "fmt"

// ValidationError rejects malformed input (bad time-of-day string, unknown
// strategy, malformed timestamp). The notification is never queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned for operations against unknown ids.
// No state changes when it is returned.
type NotFoundError struct {
	Kind string // "queue_item", "schedule"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
