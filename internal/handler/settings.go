package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripledger/internal/service"
)

// SettingsHandler exposes the effective ledger rates.
type SettingsHandler struct {
	settings *service.SettingsService
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetRates handles GET /v1/settings/rates
func (h *SettingsHandler) GetRates(c *gin.Context) {
	rates, err := h.settings.Rates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, rates.Map())
}

// InvalidateRates handles DELETE /v1/settings/rates/cache
func (h *SettingsHandler) InvalidateRates(c *gin.Context) {
	if err := h.settings.Invalidate(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
