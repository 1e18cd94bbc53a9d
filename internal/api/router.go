// Package api exposes the aggregated buffers and the feed connection over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketdash/internal/aggregator"
	"marketdash/internal/model"
)

// Store is the read/clear surface of the aggregator.
type Store interface {
	Symbols() []string
	KnownSymbols() []string
	BufferFor(symbol string) aggregator.Series
	LatestFor(symbol string) (aggregator.LatestValue, bool)
	ClearData()
	SelectActive(symbol string)
	ActiveView() aggregator.View
	Stats() aggregator.Stats
}

// Connection is the control surface of the feed manager.
type Connection interface {
	State() model.ConnectionState
	TransportName() string
	Reconnects() uint64
	Connect()
	Disconnect()
	Reconnect()
}

// Deps are the components the router serves.
type Deps struct {
	Store   Store
	Conn    Connection
	Health  http.Handler
	Metrics http.Handler
	Log     *zap.SugaredLogger

	// OnClear is called after every successful clear.
	OnClear func()
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log), cors())

	h := &handlers{d: d}
	if d.Health != nil {
		r.GET("/healthz", gin.WrapH(d.Health))
	}
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	api := r.Group("/api")
	api.GET("/symbols", h.symbols)
	api.GET("/symbols/:symbol/buffer", h.buffer)
	api.GET("/symbols/:symbol/latest", h.latest)
	api.GET("/stats", h.stats)
	api.POST("/clear", h.clear)

	api.GET("/active", h.active)
	api.PUT("/active", h.selectActive)

	conn := api.Group("/connection")
	conn.GET("", h.connection)
	conn.POST("/connect", h.connect)
	conn.POST("/disconnect", h.disconnect)
	conn.POST("/reconnect", h.reconnect)
	return r
}

func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)
		c.Next()
		log.Debugw("[api] request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func symbolParam(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
}
