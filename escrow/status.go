package escrow

import "fmt"

// Status enumerates the escrow lifecycle states.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunded    Status = "funded"
	StatusShipped   Status = "shipped"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDispute   Status = "dispute"
)

// transitions is the single source of truth for the escrow lifecycle. Every
// handler consults it; there are no per-handler status checks.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusFunded, StatusCancelled},
	StatusFunded:    {StatusShipped, StatusDispute},
	StatusShipped:   {StatusConfirmed, StatusDispute},
	StatusConfirmed: {StatusReleased, StatusDispute},
	StatusDispute:   {StatusReleased, StatusCompleted, StatusCancelled},
	StatusReleased:  {StatusCompleted},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition describing the rejected
// step when from -> to is not legal.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
