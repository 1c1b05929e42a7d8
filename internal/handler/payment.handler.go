package handler

import (
	"net/http"

	"subscription-checkout/internal/apperr"
	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/middleware"
	"subscription-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const HeaderIdempotenceKey = "Idempotence-Key"

const successPage = "Payment accepted. You can return to the chat, a confirmation will arrive there shortly."

type productRequest struct {
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Amount    int64 `json:"amount" binding:"required,gt=0"`
}

type makePaymentRequest struct {
	InitiatorID int64            `json:"initiatorId" binding:"required,gt=0"`
	Products    []productRequest `json:"products" binding:"required,min=1,dive"`
}

type paymentIDRequest struct {
	PaymentID string `json:"paymentId" form:"paymentId" binding:"required"`
}

type PaymentHandler struct {
	logger  *zap.Logger
	service service.PaymentService
}

func NewPaymentHandler(logger *zap.Logger, svc service.PaymentService) *PaymentHandler {
	return &PaymentHandler{logger: logger, service: svc}
}

// RegisterRoutes mounts the payment routes. makeGuard wraps payment creation
// and finalizeGuard the gateway callback; either may be nil.
func (h *PaymentHandler) RegisterRoutes(r *gin.Engine, makeGuard, finalizeGuard gin.HandlerFunc) {
	g := r.Group("/payment")
	g.POST("/make", chain(makeGuard, h.MakePayment)...)
	g.POST("/refund", h.Refund)
	g.POST("/cancel", h.Cancel)
	g.GET("/", h.GetPayment)
	g.GET("/success", h.Success)
	g.POST("/finalize", chain(finalizeGuard, h.Finalize)...)
}

func chain(guard, h gin.HandlerFunc) []gin.HandlerFunc {
	if guard == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{guard, h}
}

func (h *PaymentHandler) MakePayment(c *gin.Context) {
	var req makePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.New(apperr.CodeInvalidInput, "invalid request body", err))
		return
	}

	items := make([]domain.LineItem, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, domain.LineItem{ProductID: p.ProductID, Quantity: p.Amount})
	}

	url, err := h.service.CreatePayment(c.Request.Context(), req.InitiatorID, items, c.GetHeader(HeaderIdempotenceKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, url)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	var req paymentIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.New(apperr.CodeInvalidInput, "paymentId is required", err))
		return
	}
	refund, err := h.service.Refund(c.Request.Context(), req.PaymentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, refund)
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	var req paymentIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.New(apperr.CodeInvalidInput, "paymentId is required", err))
		return
	}
	p, err := h.service.Cancel(c.Request.Context(), req.PaymentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetPayment accepts the id as a query parameter or in a JSON body.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	var req paymentIDRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		if c.Request.ContentLength == 0 {
			h.fail(c, apperr.New(apperr.CodeInvalidInput, "paymentId is required", err))
			return
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, apperr.New(apperr.CodeInvalidInput, "paymentId is required", err))
			return
		}
	}
	p, err := h.service.GetPayment(c.Request.Context(), req.PaymentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaymentHandler) Success(c *gin.Context) {
	c.String(http.StatusOK, successPage)
}

// Finalize receives gateway notifications.
func (h *PaymentHandler) Finalize(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		h.fail(c, apperr.Internal(err))
		return
	}
	ack, err := h.service.HandleNotification(c.Request.Context(), raw)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (h *PaymentHandler) fail(c *gin.Context, err error) {
	resp := apperr.ToErrorResponse(h.logger, middleware.GetTraceID(c), err)
	c.AbortWithStatusJSON(resp.Status, resp)
}
