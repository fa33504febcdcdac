package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// LedgerAttributes tags the New Relic transaction started by nrgin with the
// trip, driver and actor of the request. It does nothing when New Relic is off.
func LedgerAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if id := c.Param("id"); id != "" {
			txn.AddAttribute("ledger.resource_id", id)
		}
		if driverID := c.Query("driver_id"); driverID != "" {
			txn.AddAttribute("ledger.driver_id", driverID)
		}
		if date := c.Query("date"); date != "" {
			txn.AddAttribute("ledger.date", date)
		}
		if actor := c.GetHeader("X-Actor"); actor != "" {
			txn.AddAttribute("ledger.actor", actor)
		}

		c.Next()

		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
