package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/auth"
	"github.com/dwellchat/dwellchat-server/internal/config"
	"github.com/dwellchat/dwellchat-server/internal/core"
	"github.com/dwellchat/dwellchat-server/internal/store"
)

// NewServer builds the HTTP server: health probe, WebSocket endpoint and the
// authenticated REST surface.
func NewServer(hub *core.Hub, st store.Store, verifier auth.Verifier, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, verifier, cfg.EventBuffer, logger)))

	api := router.Group("/api")
	api.Use(AuthMiddleware(verifier, logger))
	NewConversationHandlers(st, logger).Register(api)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
}
