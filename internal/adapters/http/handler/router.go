package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig はルーター構築に必要な依存です。
type RouterConfig struct {
	Punches        *PunchHandler
	Consolidations *ConsolidationHandler
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewRouter は API ルートを登録した gin.Engine を返します。
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(RequestLogger(log), gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := router.Group("/api")
	if cfg.Punches != nil {
		api.POST("/punches", cfg.Punches.Create)
		api.GET("/punches", cfg.Punches.List)
		api.GET("/punches/:id", cfg.Punches.Get)
		api.PUT("/punches/:id", cfg.Punches.Update)
		api.DELETE("/punches/:id", cfg.Punches.Delete)
	}
	if cfg.Consolidations != nil {
		api.POST("/consolidations", cfg.Consolidations.Run)
		api.GET("/aggregates/:date", cfg.Consolidations.GetForDate)
	}

	return router
}

// RequestLogger はリクエストごとにアクセスログを出力します。
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", strings.ToUpper(c.Request.Method)),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
