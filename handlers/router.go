package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"abceats/metrics"
	"abceats/utils"
)

// RouterConfig holds what the router needs beyond the handler
type RouterConfig struct {
	AllowOrigins []string
	Metrics      *metrics.Metrics
	Logger       *utils.Logger
}

// NewRouter builds the gin engine wrapped with CORS
func NewRouter(h *RestaurantHandler, cfg RouterConfig) http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), Logger(cfg.Logger.Zap()), Metrics(cfg.Metrics))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})
	if cfg.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := engine.Group("/api")
	{
		restaurants := api.Group("/restaurants")
		restaurants.GET("", h.List)
		restaurants.GET("/count", h.Count)
		restaurants.GET("/nearby", h.Nearby)
		restaurants.GET("/:id", h.Get)

		api.GET("/boroughs", h.Boroughs)
		api.GET("/cuisines", h.Cuisines)
		api.GET("/grades", h.Grades)
		api.GET("/summary", h.Summary)
		api.GET("/status", h.Status)
		api.POST("/refresh", h.Refresh)
		api.DELETE("/data", h.Clear)
	}

	engine.NoRoute(func(c *gin.Context) {
		notFound(c, "route not found")
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Origin", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
	})
	return c.Handler(engine)
}
