package http

import (
	"github.com/gin-gonic/gin"

	"bankchat/internal/bootstrap"
	"bankchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	chatHandler := handler.NewChatHandler(app.ChatService)
	documentHandler := handler.NewDocumentHandler(app.Pipeline)

	v1 := router.Group("/api/v1")

	chatGroup := v1.Group("/chatbot")
	chatGroup.POST("/message", chatHandler.SendMessage)
	chatGroup.POST("/message/stream", chatHandler.StreamMessage)
	chatGroup.GET("/history/:sessionID", chatHandler.GetHistory)
	chatGroup.DELETE("/session/:sessionID", chatHandler.ClearSession)

	docGroup := v1.Group("/documents")
	docGroup.POST("/ingest", documentHandler.Ingest)
	docGroup.GET("", documentHandler.List)
	docGroup.DELETE("/:documentID", documentHandler.Delete)

	return router
}
