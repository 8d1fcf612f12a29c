package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"rentme-inbox/internal/infra/config"
	"rentme-inbox/internal/infra/obs"
)

// UploadsPrefix is the path under which in-memory attachments are served.
const UploadsPrefix = "/uploads"

// NewRouter mounts the messaging API, the realtime socket and the operational endpoints.
func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, auth AuthMiddleware, chat *ChatHandler) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	router.Use(auth.Handle)

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if obsMW.Metrics != nil {
		router.GET("/metrics", gin.WrapH(obsMW.Metrics.Handler()))
	}

	messages := router.Group("/api/messages")
	messages.GET("/threads", chat.ListThreads)
	messages.PATCH("/read", chat.MarkRead)
	messages.POST("/upload", chat.Upload)
	messages.GET("/:otherUserId/:listingId", chat.ListMessages)
	messages.PATCH("/:id", chat.UpdateMessage)
	messages.DELETE("/:id", chat.DeleteMessage)

	router.GET(UploadsPrefix+"/*key", chat.ServeObject)
	router.GET("/ws", chat.Realtime)
	return router
}

// NewServer wraps the router in an http.Server bound to the configured address.
func NewServer(cfg config.Config, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
