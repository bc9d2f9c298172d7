package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solverai/companion/internal/api/middleware"
	"github.com/solverai/companion/internal/llm"
	"github.com/solverai/companion/internal/service"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	chatService *service.ChatService,
	ingestService *service.IngestService,
	orchestrator *llm.Orchestrator,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "AI Companion API is running",
			"features":  []string{"LLM Chat", "Persistent Storage", "Streaming", "RAG"},
			"endpoints": []string{"/chat", "/conversations", "/documents", "/health"},
		})
	})

	r.GET("/health", func(c *gin.Context) {
		primary := "unavailable"
		if orchestrator.PrimaryAlive(c.Request.Context()) {
			primary = "available"
		}
		fallback := "none"
		if orchestrator.HasFallback() {
			fallback = "openai"
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"services": gin.H{
				"api":      "running",
				"ollama":   primary,
				"fallback": fallback,
			},
		})
	})

	chatHandler := NewChatHandler(chatService)
	chatHandler.RegisterRoutes(r)

	documentsHandler := NewDocumentsHandler(ingestService)
	documentsHandler.RegisterRoutes(r)

	return r
}
