package billing

import (
	"errors"
	"fmt"
)

// Failure kinds. Match with errors.Is; use errors.As with *Error for details.
var (
	ErrNotFound               = errors.New("billing: not found")
	ErrInvalidStateTransition = errors.New("billing: invalid state transition")
	ErrTrialAlreadyUsed       = errors.New("billing: trial already used")
	ErrTrialDisabled          = errors.New("billing: trial disabled")
	ErrAlreadySuspended       = errors.New("billing: already suspended")
	ErrNotSuspended           = errors.New("billing: not suspended")
	ErrInvalidParameters      = errors.New("billing: invalid parameters")
)

// Error is a precondition failure for one restaurant.
type Error struct {
	Kind         error
	RestaurantID int64
	Reason       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: restaurant %d: %s", e.Kind, e.RestaurantID, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func fail(kind error, restaurantID int64, format string, args ...any) error {
	return &Error{Kind: kind, RestaurantID: restaurantID, Reason: fmt.Sprintf(format, args...)}
}
