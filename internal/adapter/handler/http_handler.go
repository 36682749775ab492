package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/service"
	"github.com/rl1809/hive-market/internal/metrics"
	"github.com/rl1809/hive-market/internal/port"
)

const (
	DefaultAccountHeader = "X-Account-ID"
	accountKey           = "account"
)

// Services groups the use cases exposed by the transports.
type Services struct {
	Accounts *service.AccountService
	Catalog  *service.CatalogService
	Carts    *service.CartService
	Orders   *service.OrderService
}

type HTTPHandler struct {
	svc           Services
	logger        *zap.Logger
	metrics       *metrics.Metrics
	accountHeader string
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createItemRequest struct {
	GroupID  string          `json:"group_id" binding:"required"`
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type quantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type addToCartRequest struct {
	ItemID   string          `json:"item_id" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type registerRequest struct {
	Role            domain.Role `json:"role" binding:"required"`
	Name            string      `json:"name" binding:"required"`
	ShippingAddress string      `json:"shipping_address"`
	ApiaryName      string      `json:"apiary_name"`
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status" binding:"required"`
}

type cartResponse struct {
	domain.Cart
	Total decimal.Decimal `json:"total"`
}

func NewHTTPHandler(svc Services, logger *zap.Logger, m *metrics.Metrics, accountHeader string) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if accountHeader == "" {
		accountHeader = DefaultAccountHeader
	}
	return &HTTPHandler{
		svc:           svc,
		logger:        logger.Named("http"),
		metrics:       m,
		accountHeader: accountHeader,
	}
}

// Router builds the gin engine with every route registered.
func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.observe)

	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	api := r.Group("/api/v1")
	api.POST("/accounts", h.Register)
	api.GET("/items", h.ListItems)
	api.GET("/items/:id", h.GetItem)

	authed := api.Group("", h.authenticate)
	authed.GET("/accounts/me", h.Me)
	authed.POST("/items", h.CreateItem)
	authed.PATCH("/items/:id/price", h.UpdatePrice)
	authed.POST("/items/:id/restock", h.Restock)
	authed.DELETE("/items/:id", h.DeleteItem)

	buyer := authed.Group("", requireBuyer)
	buyer.GET("/cart", h.GetCart)
	buyer.POST("/cart/entries", h.AddToCart)
	buyer.PATCH("/cart/entries/:entry_id", h.UpdateCartEntry)
	buyer.DELETE("/cart/entries/:entry_id", h.RemoveCartEntry)
	buyer.DELETE("/cart", h.ClearCart)
	buyer.POST("/orders", h.Checkout)
	buyer.GET("/orders", h.ListOrders)

	authed.GET("/orders/:id", h.GetOrder)
	authed.POST("/orders/:id/pay", h.Pay)
	authed.POST("/orders/:id/cancel", h.Cancel)
	authed.PUT("/orders/:id/status", h.SetStatus)
	return r
}

func (h *HTTPHandler) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	h.metrics.HTTPRequest(route, c.Writer.Status(), time.Since(start))
	h.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
	)
}

func (h *HTTPHandler) authenticate(c *gin.Context) {
	id := c.GetHeader(h.accountHeader)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "missing " + h.accountHeader})
		return
	}
	acc, err := h.svc.Accounts.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "unknown account"})
			return
		}
		h.writeError(c, err)
		c.Abort()
		return
	}
	c.Set(accountKey, acc)
	c.Next()
}

func requireBuyer(c *gin.Context) {
	if _, ok := account(c).(domain.Buyer); !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "buyer account required"})
		return
	}
	c.Next()
}

func account(c *gin.Context) domain.Account {
	v, _ := c.Get(accountKey)
	acc, _ := v.(domain.Account)
	return acc
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acc, err := h.svc.Accounts.Register(c.Request.Context(), service.RegisterAccountCommand{
		Role:            req.Role,
		Name:            req.Name,
		ShippingAddress: req.ShippingAddress,
		ApiaryName:      req.ApiaryName,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, accountView(acc))
}

func (h *HTTPHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, accountView(account(c)))
}

func accountView(acc domain.Account) gin.H {
	return gin.H{"role": acc.Role(), "account": acc}
}

func (h *HTTPHandler) ListItems(c *gin.Context) {
	filter := port.ItemFilter{
		GroupID:    c.Query("group_id"),
		ProducerID: c.Query("producer_id"),
		Limit:      queryInt(c, "limit"),
		Offset:     queryInt(c, "offset"),
	}
	var err error
	if filter.MinPrice, err = queryDecimal(c, "min_price"); err != nil {
		badRequest(c, err)
		return
	}
	if filter.MaxPrice, err = queryDecimal(c, "max_price"); err != nil {
		badRequest(c, err)
		return
	}

	items, err := h.svc.Catalog.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *HTTPHandler) GetItem(c *gin.Context) {
	item, err := h.svc.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) CreateItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.svc.Catalog.CreateItem(c.Request.Context(), account(c), service.CreateItemCommand{
		GroupID:  req.GroupID,
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *HTTPHandler) UpdatePrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.svc.Catalog.UpdatePrice(c.Request.Context(), account(c), c.Param("id"), req.Price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) Restock(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.svc.Catalog.Restock(c.Request.Context(), account(c), c.Param("id"), req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) DeleteItem(c *gin.Context) {
	if err := h.svc.Catalog.DeleteItem(c.Request.Context(), account(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) GetCart(c *gin.Context) {
	buyerID := account(c).AccountID()
	cart, err := h.svc.Carts.Get(c.Request.Context(), buyerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if cart.Entries == nil {
		cart.Entries = []domain.CartEntry{}
	}
	c.JSON(http.StatusOK, cartResponse{Cart: cart, Total: cart.Total()})
}

func (h *HTTPHandler) AddToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry, err := h.svc.Carts.AddItem(c.Request.Context(), account(c).AccountID(), req.ItemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *HTTPHandler) UpdateCartEntry(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.svc.Carts.UpdateQuantity(c.Request.Context(), account(c).AccountID(), c.Param("entry_id"), req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) RemoveCartEntry(c *gin.Context) {
	if err := h.svc.Carts.RemoveEntry(c.Request.Context(), account(c).AccountID(), c.Param("entry_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) ClearCart(c *gin.Context) {
	if err := h.svc.Carts.Clear(c.Request.Context(), account(c).AccountID()); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) Checkout(c *gin.Context) {
	order, err := h.svc.Orders.CreateFromCart(c.Request.Context(), account(c).AccountID())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	filter := port.OrderFilter{
		BuyerID: account(c).AccountID(),
		Status:  domain.OrderStatus(c.Query("status")),
		Limit:   queryInt(c, "limit"),
		Offset:  queryInt(c, "offset"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		badRequest(c, errors.New("unknown status"))
		return
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		badRequest(c, err)
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		badRequest(c, err)
		return
	}

	orders, err := h.svc.Orders.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !domain.IsBuyer(account(c), order.BuyerID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: domain.ErrNotFound.Code, Message: "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) Pay(c *gin.Context) {
	h.respondOrder(c, h.svc.Orders.PayAs(c.Request.Context(), c.Param("id"), account(c)))
}

func (h *HTTPHandler) Cancel(c *gin.Context) {
	h.respondOrder(c, h.svc.Orders.Cancel(c.Request.Context(), c.Param("id"), account(c)))
}

func (h *HTTPHandler) SetStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respondOrder(c, h.svc.Orders.SetStatusAs(c.Request.Context(), c.Param("id"), req.Status, account(c)))
}

// respondOrder writes err, or the order's current state when err is nil.
func (h *HTTPHandler) respondOrder(c *gin.Context, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	order, err := h.svc.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: domain.CodeOf(err), Message: err.Error()})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		if errors.Is(err, domain.ErrNotOwner) {
			return http.StatusForbidden
		}
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return http.StatusServiceUnavailable
		}
		if errors.Is(err, domain.ErrGatewayFailure) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func queryDecimal(c *gin.Context, key string) (decimal.NullDecimal, error) {
	raw := c.Query(key)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, errors.New(key + ": invalid decimal")
	}
	return decimal.NewNullDecimal(d), nil
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(key + ": expected RFC3339 time")
	}
	return t, nil
}
