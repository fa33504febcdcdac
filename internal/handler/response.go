package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripledger/internal/ledger"
	"tripledger/internal/redis"
	"tripledger/internal/repository"
	"tripledger/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  map[string]string `json:"details,omitempty"`
	Failures []LineFailure     `json:"failures,omitempty"`
}

// LineFailure describes a transfer line that was rejected or not delivered.
type LineFailure struct {
	Index             int    `json:"index"`
	ProductID         string `json:"product_id"`
	ReceivingDriverID string `json:"receiving_driver_id"`
	Error             string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Error = verr.Err.Error()
		resp.Details = verr.Details
	}

	var derr *service.TransferDeliveryError
	if errors.As(err, &derr) {
		resp.Failures = lineFailures(derr.Failures)
	}

	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

func lineFailures(failures []service.LineError) []LineFailure {
	out := make([]LineFailure, 0, len(failures))
	for _, f := range failures {
		out = append(out, LineFailure{
			Index:             f.Index,
			ProductID:         f.ProductID,
			ReceivingDriverID: f.ReceivingDriverID,
			Error:             f.Err.Error(),
		})
	}
	return out
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	var refErr *service.ReferenceError

	switch {
	// Saved, but some transfer lines were not delivered. Checked first: the
	// delivery error also matches the causes of its individual lines.
	case errors.Is(err, service.ErrTransferNotDelivered):
		return http.StatusMultiStatus

	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrDuplicateTrip),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, redis.ErrLockTimeout):
		return http.StatusConflict

	// Unprocessable line items and references
	case errors.Is(err, service.ErrInvalidLine),
		errors.As(err, &refErr):
		return http.StatusUnprocessableEntity

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidTripID),
		errors.Is(err, service.ErrInvalidDate),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, ledger.ErrNonFinite):
		return http.StatusBadRequest

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
