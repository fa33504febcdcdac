package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
	"tripledger/internal/service"
)

// actorHeader names the back-office user recorded as creator/updater.
const actorHeader = "X-Actor"

// TripHandler handles HTTP requests for daily trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// LineRequest is a sold product line in a request body.
type LineRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// TransferRequest is an outgoing transfer line in a request body.
type TransferRequest struct {
	ProductID         string          `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	ReceivingDriverID string          `json:"receiving_driver_id"`
}

// CreateTripRequest is the HTTP request body for recording a trip.
type CreateTripRequest struct {
	DriverID          string            `json:"driver_id"`
	Date              string            `json:"date"`
	SoldLines         []LineRequest     `json:"sold_lines"`
	OutgoingTransfers []TransferRequest `json:"outgoing_transfers"`
	CollectionAmount  decimal.Decimal   `json:"collection_amount"`
	ExpiryAmount      decimal.Decimal   `json:"expiry_amount"`
	DiscountAmount    decimal.Decimal   `json:"discount_amount"`
	PetrolAmount      decimal.Decimal   `json:"petrol_amount"`
}

// UpdateTripRequest is the HTTP request body for changing a trip. Omitted
// fields keep their current value.
type UpdateTripRequest struct {
	SoldLines         *[]LineRequest     `json:"sold_lines"`
	OutgoingTransfers *[]TransferRequest `json:"outgoing_transfers"`
	CollectionAmount  *decimal.Decimal   `json:"collection_amount"`
	ExpiryAmount      *decimal.Decimal   `json:"expiry_amount"`
	DiscountAmount    *decimal.Decimal   `json:"discount_amount"`
	PetrolAmount      *decimal.Decimal   `json:"petrol_amount"`
}

// LineResponse is a product line in a response.
type LineResponse struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Value       decimal.Decimal `json:"value"`

	SourceTripID        string `json:"source_trip_id,omitempty"`
	SendingDriverID     string `json:"sending_driver_id,omitempty"`
	SendingDriverName   string `json:"sending_driver_name,omitempty"`
	ReceivingDriverID   string `json:"receiving_driver_id,omitempty"`
	ReceivingDriverName string `json:"receiving_driver_name,omitempty"`
}

// CategoryTotalsResponse holds per-category figures.
type CategoryTotalsResponse struct {
	Total       decimal.Decimal `json:"total"`
	Accepted    decimal.Decimal `json:"accepted"`
	Transferred decimal.Decimal `json:"transferred"`
	NetTotal    decimal.Decimal `json:"net_total"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	ID         string `json:"id"`
	DriverID   string `json:"driver_id"`
	DriverName string `json:"driver_name"`
	Date       string `json:"date"`

	SoldLines         []LineResponse `json:"sold_lines"`
	AcceptedLines     []LineResponse `json:"accepted_lines"`
	OutgoingTransfers []LineResponse `json:"outgoing_transfers"`

	Fresh      CategoryTotalsResponse `json:"fresh"`
	Bakery     CategoryTotalsResponse `json:"bakery"`
	Total      decimal.Decimal        `json:"total"`
	NetTotal   decimal.Decimal        `json:"net_total"`
	GrandTotal decimal.Decimal        `json:"grand_total"`

	CollectionAmount decimal.Decimal `json:"collection_amount"`
	PurchaseAmount   decimal.Decimal `json:"purchase_amount"`
	ExpiryAmount     decimal.Decimal `json:"expiry_amount"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	PetrolAmount     decimal.Decimal `json:"petrol_amount"`
	ExpiryAfterTax   decimal.Decimal `json:"expiry_after_tax"`
	AmountToBe       decimal.Decimal `json:"amount_to_be"`
	SalesDifference  decimal.Decimal `json:"sales_difference"`
	Profit           decimal.Decimal `json:"profit"`
	PreviousBalance  decimal.Decimal `json:"previous_balance"`
	Balance          decimal.Decimal `json:"balance"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`

	Delivery *DeliveryResponse `json:"delivery,omitempty"`
}

// DeliveryResponse summarizes the transfer fan-out of a write.
type DeliveryResponse struct {
	Delivered int           `json:"delivered"`
	Pending   int           `json:"pending"`
	Duplicate int           `json:"duplicate"`
	Retracted int           `json:"retracted"`
	Failures  []LineFailure `json:"failures,omitempty"`
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.tripService.CreateTrip(c.Request.Context(), service.CreateTripRequest{
		DriverID:          req.DriverID,
		Date:              req.Date,
		SoldLines:         toLineInputs(req.SoldLines),
		OutgoingTransfers: toTransferInputs(req.OutgoingTransfers),
		CollectionAmount:  req.CollectionAmount,
		ExpiryAmount:      req.ExpiryAmount,
		DiscountAmount:    req.DiscountAmount,
		PetrolAmount:      req.PetrolAmount,
		Actor:             c.GetHeader(actorHeader),
	})
	h.respondResult(c, http.StatusCreated, result, err)
}

// UpdateTrip handles PATCH /v1/trips/:id
func (h *TripHandler) UpdateTrip(c *gin.Context) {
	var req UpdateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	update := service.UpdateTripRequest{
		CollectionAmount: req.CollectionAmount,
		ExpiryAmount:     req.ExpiryAmount,
		DiscountAmount:   req.DiscountAmount,
		PetrolAmount:     req.PetrolAmount,
		Actor:            c.GetHeader(actorHeader),
	}
	if req.SoldLines != nil {
		lines := toLineInputs(*req.SoldLines)
		update.SoldLines = &lines
	}
	if req.OutgoingTransfers != nil {
		lines := toTransferInputs(*req.OutgoingTransfers)
		update.OutgoingTransfers = &lines
	}

	result, err := h.tripService.UpdateTrip(c.Request.Context(), c.Param("id"), update)
	h.respondResult(c, http.StatusOK, result, err)
}

// DeleteTrip handles DELETE /v1/trips/:id
func (h *TripHandler) DeleteTrip(c *gin.Context) {
	if err := h.tripService.DeleteTrip(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reconcile handles POST /v1/trips/:id/reconcile
func (h *TripHandler) Reconcile(c *gin.Context) {
	result, err := h.tripService.Reconcile(c.Request.Context(), c.Param("id"))
	h.respondResult(c, http.StatusOK, result, err)
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.tripService.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// GetAll handles GET /v1/trips?driver_id=...|date=YYYY-MM-DD
func (h *TripHandler) GetAll(c *gin.Context) {
	var (
		trips []*domain.DailyTrip
		err   error
	)
	switch {
	case c.Query("driver_id") != "":
		trips, err = h.tripService.ListTripsByDriver(c.Request.Context(), c.Query("driver_id"))
	case c.Query("date") != "":
		trips, err = h.tripService.ListTripsByDate(c.Request.Context(), c.Query("date"))
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "driver_id or date query parameter is required"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		response = append(response, toTripResponse(t))
	}
	respondJSON(c, http.StatusOK, response)
}

// respondResult writes a trip write result. A trip saved with undelivered
// transfers is reported as 207 with the saved trip and the failed lines.
func (h *TripHandler) respondResult(c *gin.Context, code int, result *service.TripResult, err error) {
	if err != nil && (result == nil || !errors.Is(err, service.ErrTransferNotDelivered)) {
		respondError(c, err)
		return
	}
	if err != nil {
		code = http.StatusMultiStatus
	}

	response := toTripResponse(result.Trip)
	response.Delivery = &DeliveryResponse{
		Delivered: result.Delivery.Delivered,
		Pending:   result.Delivery.Pending,
		Duplicate: result.Delivery.Duplicate,
		Retracted: result.Delivery.Retracted,
	}
	if len(result.Delivery.Failures) > 0 {
		response.Delivery.Failures = lineFailures(result.Delivery.Failures)
	}
	respondJSON(c, code, response)
}

func toLineInputs(lines []LineRequest) []service.LineInput {
	out := make([]service.LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, service.LineInput{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

func toTransferInputs(lines []TransferRequest) []service.TransferInput {
	out := make([]service.TransferInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, service.TransferInput{
			ProductID:         l.ProductID,
			Quantity:          l.Quantity,
			UnitPrice:         l.UnitPrice,
			ReceivingDriverID: l.ReceivingDriverID,
		})
	}
	return out
}

func toLineResponse(l domain.ProductLine) LineResponse {
	return LineResponse{
		ProductID:   l.ProductID,
		ProductName: l.ProductName,
		Category:    string(l.Category),
		Quantity:    l.Quantity,
		UnitPrice:   l.UnitPrice,
		Value:       l.Value(),
	}
}

func toTransferResponses(lines []domain.TransferLine) []LineResponse {
	out := make([]LineResponse, 0, len(lines))
	for _, l := range lines {
		r := toLineResponse(l.ProductLine)
		r.SourceTripID = l.SourceTripID
		r.SendingDriverID = l.SendingDriverID
		r.SendingDriverName = l.SendingDriverName
		r.ReceivingDriverID = l.ReceivingDriverID
		r.ReceivingDriverName = l.ReceivingDriverName
		out = append(out, r)
	}
	return out
}

func toCategoryResponse(t domain.CategoryTotals) CategoryTotalsResponse {
	return CategoryTotalsResponse{
		Total:       t.Total,
		Accepted:    t.Accepted,
		Transferred: t.Transferred,
		NetTotal:    t.NetTotal,
		GrandTotal:  t.GrandTotal,
	}
}

func toTripResponse(t *domain.DailyTrip) TripResponse {
	sold := make([]LineResponse, 0, len(t.SoldLines))
	for _, l := range t.SoldLines {
		sold = append(sold, toLineResponse(l))
	}
	accepted := make([]LineResponse, 0, len(t.AcceptedLines))
	for _, l := range t.AcceptedLines {
		r := toLineResponse(l.ProductLine)
		r.SourceTripID = l.SourceTripID
		r.SendingDriverID = l.SendingDriverID
		r.SendingDriverName = l.SendingDriverName
		accepted = append(accepted, r)
	}

	return TripResponse{
		ID:                t.ID,
		DriverID:          t.DriverID,
		DriverName:        t.DriverName,
		Date:              t.Date.Format(domain.DateLayout),
		SoldLines:         sold,
		AcceptedLines:     accepted,
		OutgoingTransfers: toTransferResponses(t.OutgoingTransfers),
		Fresh:             toCategoryResponse(t.Totals.Fresh),
		Bakery:            toCategoryResponse(t.Totals.Bakery),
		Total:             t.Totals.Total,
		NetTotal:          t.Totals.NetTotal,
		GrandTotal:        t.Totals.GrandTotal,
		CollectionAmount:  t.CollectionAmount,
		PurchaseAmount:    t.PurchaseAmount,
		ExpiryAmount:      t.ExpiryAmount,
		DiscountAmount:    t.DiscountAmount,
		PetrolAmount:      t.PetrolAmount,
		ExpiryAfterTax:    t.ExpiryAfterTax,
		AmountToBe:        t.AmountToBe,
		SalesDifference:   t.SalesDifference,
		Profit:            t.Profit,
		PreviousBalance:   t.PreviousBalance,
		Balance:           t.Balance,
		CreatedAt:         t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         t.UpdatedAt.Format(time.RFC3339),
		CreatedBy:         t.CreatedBy,
		UpdatedBy:         t.UpdatedBy,
	}
}
