package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidDate is returned when a trip date is missing or malformed.
	ErrInvalidDate = errors.New("invalid trip date")

	// ErrInvalidRequest is returned when request fields fail validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidLine is returned when a product line is malformed.
	ErrInvalidLine = errors.New("invalid product line")

	// ErrDuplicateTrip is returned when the driver already has a trip on the date.
	ErrDuplicateTrip = errors.New("driver already has a trip for this date")

	// ErrUnknownDriver is returned when a driver reference does not resolve.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrUnknownProduct is returned when a product reference does not resolve.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrSelfTransfer is returned for a transfer line addressed to the sending driver.
	ErrSelfTransfer = errors.New("cannot transfer to the sending driver")

	// ErrDuplicateTransferLine is returned when a trip repeats the same transfer line.
	ErrDuplicateTransferLine = errors.New("duplicate transfer line")

	// ErrTransferNotDelivered is matched by TransferDeliveryError.
	ErrTransferNotDelivered = errors.New("trip saved but transfers were not delivered")
)

// ValidationError reports input rejected before any calculation runs.
type ValidationError struct {
	Err     error
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, 0, len(e.Details))
	for field, problem := range e.Details {
		parts = append(parts, field+": "+problem)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s (%s)", e.Err, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, field, problem string) *ValidationError {
	return &ValidationError{Err: err, Details: map[string]string{field: problem}}
}

// ReferenceError reports an unknown driver or product id.
type ReferenceError struct {
	Kind string
	ID   string
	Err  error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.ID, e.Err)
}

func (e *ReferenceError) Unwrap() error { return e.Err }

// PersistenceError reports a store failure. The triggering write is rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// LineError describes a single transfer line that was rejected or not delivered.
type LineError struct {
	Index             int
	ProductID         string
	ReceivingDriverID string
	Err               error
}

func (e LineError) Error() string {
	return fmt.Sprintf("transfer line %d (product %s to %s): %v", e.Index, e.ProductID, e.ReceivingDriverID, e.Err)
}

func (e LineError) Unwrap() error { return e.Err }

// TransferDeliveryError means the trip itself was saved but some of its
// transfer lines were rejected or could not be delivered.
type TransferDeliveryError struct {
	TripID   string
	Failures []LineError
}

func (e *TransferDeliveryError) Error() string {
	return fmt.Sprintf("trip %s: %d transfer line(s) not delivered", e.TripID, len(e.Failures))
}

func (e *TransferDeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrTransferNotDelivered)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
