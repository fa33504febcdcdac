package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripledger/internal/domain"
	"tripledger/internal/service"
)

// TransferHandler handles HTTP requests for pending transfers.
type TransferHandler struct {
	tripService *service.TripService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(tripService *service.TripService) *TransferHandler {
	return &TransferHandler{tripService: tripService}
}

// PendingTransferResponse lists lines waiting for a receiver's trip.
type PendingTransferResponse struct {
	Date              string         `json:"date"`
	ReceivingDriverID string         `json:"receiving_driver_id"`
	Lines             []LineResponse `json:"lines"`
}

// GetPending handles GET /v1/transfers/pending?date=YYYY-MM-DD
func (h *TransferHandler) GetPending(c *gin.Context) {
	pending, err := h.tripService.ListPending(c.Request.Context(), c.Query("date"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]PendingTransferResponse, 0, len(pending))
	for _, p := range pending {
		response = append(response, PendingTransferResponse{
			Date:              p.Date.Format(domain.DateLayout),
			ReceivingDriverID: p.ReceivingDriverID,
			Lines:             toTransferResponses(p.Lines),
		})
	}
	respondJSON(c, http.StatusOK, response)
}
