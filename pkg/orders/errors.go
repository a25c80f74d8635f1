package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrTransient marks an inventory failure that is expected to go away on retry.
var ErrTransient = errors.New("transient inventory error")

// ConflictError is returned when an operation is not allowed in the current order state.
type ConflictError struct {
	Expected []State
	Actual   State
	msg      string
}

func newConflict(actual State, expected ...State) *ConflictError {
	quoted, _ := json.Marshal(expected)
	return &ConflictError{
		Expected: expected,
		Actual:   actual,
		msg:      fmt.Sprintf("Order is not in any expected state %s, but in state %s", quoted, actual),
	}
}

func (e *ConflictError) Error() string { return e.msg }

// StatusCode is the HTTP status the conflict is reported with.
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// StatusError is a non-success response from a remote order backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Request failed (%d): %s", e.Code, e.Message)
}

// BookingError is a definitive rejection of an order item by the inventory.
type BookingError struct {
	ReservationID string
	Asset         string
	Quantity      int
}

func (e *BookingError) Error() string {
	return fmt.Sprintf("Not possible to book order %s (%d of %s)", e.ReservationID, e.Quantity, e.Asset)
}

// IsRetryable reports whether err is worth another attempt.
// Conflicts, rejections and client errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var conflict *ConflictError
	var booking *BookingError
	var status *StatusError
	switch {
	case errors.As(err, &conflict), errors.As(err, &booking):
		return false
	case errors.As(err, &status):
		return status.Code >= 500 || status.Code == http.StatusTooManyRequests
	case errors.Is(err, ErrTransient):
		return true
	}
	// Network failures and unknown errors.
	return true
}
