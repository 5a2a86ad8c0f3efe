package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func Routes(router *gin.RouterGroup) {
	router.GET("/health", Health)
}

// Health reports the service is up. It does not check any dependency.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}
