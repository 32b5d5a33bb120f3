package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/richardliu001/order-choreography/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	seeds     []config.ProductSeed
	log       *zap.SugaredLogger
}

func RegisterHandlers(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/history", h.orderHistory)
		v1.POST("/orders/:id/process", h.processOrder)
		v1.POST("/orders/:id/process-pending", h.processPendingOrder)
		v1.POST("/orders/:id/fulfill", h.fulfillOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.GET("/inventory/products", h.products)
		v1.GET("/inventory/availability", h.availability)
		v1.POST("/inventory/seed", h.seed)
	}
}

// writeError maps domain failures onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, service.ErrProductNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrConcurrencyConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createOrderReq struct {
	CustomerName string              `json:"customerName" binding:"required"`
	Items        []service.OrderLine `json:"items" binding:"required"`
}

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.orders.CreateOrder(c.Request.Context(), req.CustomerName, req.Items)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"orderId": id})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) orderHistory(c *gin.Context) {
	hist, err := h.orders.GetOrderHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handler) processOrder(c *gin.Context) {
	res, err := h.orders.ProcessOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) processPendingOrder(c *gin.Context) {
	res, err := h.orders.ProcessPendingOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) fulfillOrder(c *gin.Context) {
	id := c.Param("id")
	if err := h.orders.FulfillOrder(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": id, "status": domain.StatusFulfilled})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelReq
	// body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	id := c.Param("id")
	if err := h.orders.CancelOrder(c.Request.Context(), id, req.Reason); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": id, "status": domain.StatusCancelled})
}

type productView struct {
	ID                string          `json:"productId"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantityAvailable"`
	QuantityReserved  int             `json:"quantityReserved"`
	ReorderLevel      int             `json:"reorderLevel"`
}

func (h *Handler) products(c *gin.Context) {
	var ids []string
	if raw := c.Query("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}
	ctx := c.Request.Context()
	ps, err := h.inventory.Products(ctx, ids)
	if err != nil {
		h.writeError(c, err)
		return
	}
	found := make([]string, len(ps))
	for i, p := range ps {
		found[i] = p.ID
	}
	stock, err := h.inventory.Stock(ctx, found)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		it := stock[p.ID]
		out = append(out, productView{
			ID:                p.ID,
			Name:              p.Name,
			Description:       p.Description,
			Price:             p.Price,
			QuantityAvailable: it.QuantityAvailable,
			QuantityReserved:  it.QuantityReserved,
			ReorderLevel:      it.ReorderLevel,
		})
	}
	c.JSON(http.StatusOK, out)
}

// availability takes items=A:3,B:1.
func (h *Handler) availability(c *gin.Context) {
	raw := c.Query("items")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items is required"})
		return
	}
	var lines []domain.LineItem
	for _, part := range strings.Split(raw, ",") {
		pid, qty, ok := strings.Cut(part, ":")
		n, err := strconv.Atoi(qty)
		if !ok || pid == "" || err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item " + part})
			return
		}
		lines = append(lines, domain.LineItem{ProductID: pid, Quantity: n})
	}
	ok, err := h.inventory.IsAvailable(c.Request.Context(), lines)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": ok})
}

func (h *Handler) seed(c *gin.Context) {
	seeded, err := h.inventory.Seed(c.Request.Context(), h.seeds)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seeded": seeded})
}
