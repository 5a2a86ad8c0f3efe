package deployment

import (
	"github.com/gin-gonic/gin"
	"github.com/monica-infra/deployer/internal/middleware"
)

func Routes(router *gin.RouterGroup, authenticationMiddleware middleware.AuthenticationMiddleware, handler Handler) {
	tokenAuthenticationRouter := router.Group("")
	tokenAuthenticationRouter.Use(authenticationMiddleware.TokenAuthentication)

	tokenAuthenticationRouter.GET("/descriptor", handler.Descriptor)
	tokenAuthenticationRouter.POST("/deployments", handler.Deploy)
	tokenAuthenticationRouter.GET("/deployments/latest", handler.Latest)
}
