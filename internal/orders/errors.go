package orders

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidInput indicates a malformed request; nothing was persisted.
	ErrInvalidInput = errors.New("order: invalid input")
	// ErrNotFound indicates the referenced order does not exist.
	ErrNotFound = errors.New("order: not found")
	// ErrConflict indicates an illegal state transition.
	ErrConflict = errors.New("order: conflict")
	// ErrPersistence indicates a failed or cancelled write.
	ErrPersistence = errors.New("order: persistence failure")
	// ErrDuplicateRequest indicates the idempotency key was already used.
	ErrDuplicateRequest = errors.New("order: duplicate request")
)

// ValidationError carries field-level detail for a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%v: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ConflictError reports a rejected transition along with the status the order is in.
type ConflictError struct {
	OrderID       string
	CurrentStatus string
	Reason        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: order %s: %s", ErrConflict, e.OrderID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func cannotCancel(orderID, status string) *ConflictError {
	return &ConflictError{
		OrderID:       orderID,
		CurrentStatus: status,
		Reason:        fmt.Sprintf("cannot cancel: order is already %s", status),
	}
}
