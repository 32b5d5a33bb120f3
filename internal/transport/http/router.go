package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/service"
	"go.uber.org/zap"
)

func NewRouter(orders *service.OrderService, inventory *service.InventoryService, seeds []config.ProductSeed, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationMiddleware())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	RegisterHandlers(r, &Handler{orders: orders, inventory: inventory, seeds: seeds, log: log})
	return r
}
