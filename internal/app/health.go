package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerHealth exposes a bare liveness check for the container runtime.
// It reports nothing about dependencies or service state.
func registerHealth(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
}
