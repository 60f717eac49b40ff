package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spottrader/engine"
	"spottrader/storage"
)

// StatusProvider 提供引擎只读快照
type StatusProvider interface {
	Snapshot() engine.Snapshot
}

// OrderHistory 订单更新查询
type OrderHistory interface {
	QueryOrderUpdates(symbol string, limit int) ([]*storage.OrderRecord, error)
}

// Deps 路由依赖
type Deps struct {
	Status   StatusProvider
	Orders   OrderHistory // 可为 nil（未启用存储）
	Symbol   string
	Exchange string
	Mode     string
	Started  time.Time
}

const maxOrderLimit = 500

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, deps Deps, apiKeyHash string) {
	// Prometheus metrics 端点（不需要认证，供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", healthHandler(deps))

	protected := api.Group("")
	protected.Use(apiKeyMiddleware(apiKeyHash))
	{
		protected.GET("/status", statusHandler(deps))
		protected.GET("/orders", ordersHandler(deps))
	}
}

func healthHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(deps.Started).Round(time.Second).String(),
		})
	}
}

func statusHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Status == nil {
			respondError(c, http.StatusServiceUnavailable, "engine not ready")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"symbol":   deps.Symbol,
			"exchange": deps.Exchange,
			"mode":     deps.Mode,
			"engine":   deps.Status.Snapshot(),
		})
	}
}

func ordersHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Orders == nil {
			c.JSON(http.StatusOK, gin.H{"orders": []*storage.OrderRecord{}})
			return
		}

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				respondError(c, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		if limit > maxOrderLimit {
			limit = maxOrderLimit
		}

		records, err := deps.Orders.QueryOrderUpdates(deps.Symbol, limit)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		if records == nil {
			records = []*storage.OrderRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": records})
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
