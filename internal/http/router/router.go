package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NEAR-DevHub/devbot/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, users handler.UserReader) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		userHandler := handler.NewUserHandler(users)
		UserRouter(api.Group("/users"), userHandler)
	}
}

func UserRouter(rg *gin.RouterGroup, h *handler.UserHandler) {
	rg.GET("/:handle", h.Profile)
	rg.GET("/:handle/contributions", h.Contributions)
}
