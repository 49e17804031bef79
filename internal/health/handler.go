package health

import (
	"net/http"

	"github.com/c50bossio/6fb-booking-sub006/internal/db"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Handler returns the liveness endpoint backed by a database ping
func Handler(database *db.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := database.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, healthResponse{
				Status:   "degraded",
				Database: "unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, healthResponse{
			Status:   "ok",
			Database: "ok",
		})
	}
}
