package handlers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/pedalport/rental-backend/internal/database"
	"github.com/pedalport/rental-backend/internal/gateway"
	"github.com/pedalport/rental-backend/internal/middleware"
	"github.com/pedalport/rental-backend/internal/models"
	"github.com/pedalport/rental-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// PaymentHandler handles payment initiation and gateway callbacks.
type PaymentHandler struct {
	ledgerService  *services.LedgerService
	reconciliation *services.ReconciliationService
	registry       *gateway.Registry
	auditRepo      *database.PaymentAuditRepository
	logger         *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(
	ledgerService *services.LedgerService,
	reconciliation *services.ReconciliationService,
	registry *gateway.Registry,
	auditRepo *database.PaymentAuditRepository,
	logger *logrus.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		ledgerService:  ledgerService,
		reconciliation: reconciliation,
		registry:       registry,
		auditRepo:      auditRepo,
		logger:         logger,
	}
}

// InitiatePayment handles POST /api/v1/payments/initiate
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	payment, booking, err := h.ledgerService.OpenPaymentIntent(
		c.Request.Context(), req.BookingID, customerCtx.CustomerID, req.Method)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to open payment intent")
		return
	}

	h.safeAudit(c, models.NewPaymentAudit(models.PaymentEventIntentOpened, models.PaymentSourceBackend).
		SetProvider(string(req.Method)).
		SetCorrelation(payment.CorrelationID).
		SetBooking(booking.ID).
		SetClient(c.ClientIP(), c.Request.UserAgent()))

	adapter, err := h.registry.ForMethod(req.Method)
	if err != nil {
		respondServiceError(c, h.logger, err, "No adapter for payment method")
		return
	}

	payload, err := adapter.BuildRequest(c.Request.Context(), gateway.CheckoutIntent{
		CorrelationID: payment.CorrelationID,
		BookingID:     booking.ID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Description:   fmt.Sprintf("Bike rental booking #%d", booking.ID),
	})
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"correlation_id": payment.CorrelationID,
			"provider":       req.Method,
		}).Error("Failed to build checkout request")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": "The payment gateway could not be reached",
		})
		return
	}

	checkout := models.NewPaymentAudit(models.PaymentEventCheckoutBuilt, models.PaymentSourceBackend).
		SetProvider(payload.Provider).
		SetCorrelation(payment.CorrelationID).
		SetBooking(booking.ID).
		SetClient(c.ClientIP(), c.Request.UserAgent())
	if payload.GatewayRef != "" {
		checkout.SetGatewayRef(payload.GatewayRef)
	}
	h.safeAudit(c, checkout)

	c.JSON(http.StatusOK, models.InitiatePaymentResponse{
		CorrelationID: payment.CorrelationID,
		Provider:      payload.Provider,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		RedirectURL:   payload.RedirectURL,
		FormAction:    payload.FormAction,
		FormFields:    payload.FormFields,
	})
}

// Callback handles GET and POST /api/v1/payments/:provider/callback.
// Gateways redirect browsers here (GET) and retry server-to-server (POST);
// both paths converge on the same parameter bag.
func (h *PaymentHandler) Callback(c *gin.Context) {
	provider := c.Param("provider")

	params := url.Values{}
	for key, values := range c.Request.URL.Query() {
		params[key] = values
	}
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for key, values := range c.Request.PostForm {
				if _, seen := params[key]; !seen {
					params[key] = values
				}
			}
		}
	}

	ack := h.reconciliation.HandleCallback(c.Request.Context(), provider, params, services.CallbackMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RawQuery:  params.Encode(),
	})

	c.JSON(ack.Status, ack)
}

// GetTrail handles GET /api/v1/payments/trail/:correlation_id. Scoped to the
// owner of the underlying booking; the trail carries IP and user-agent data.
func (h *PaymentHandler) GetTrail(c *gin.Context) {
	customerCtx, ok := middleware.GetCustomerContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	trail, err := h.reconciliation.Trail(c.Request.Context(), c.Param("correlation_id"), customerCtx.CustomerID)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to load payment trail")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": trail,
		"count":  len(trail),
	})
}

// safeAudit logs an audit entry without failing the request.
func (h *PaymentHandler) safeAudit(c *gin.Context, audit *models.PaymentAudit) {
	if err := h.auditRepo.Log(c.Request.Context(), audit); err != nil {
		h.logger.WithError(err).WithField("event_type", audit.EventType).Error("Failed to write payment audit")
	}
}
