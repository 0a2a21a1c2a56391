package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/simstore/internal/authorization"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	refunddomain "github.com/smallbiznis/simstore/internal/refund/domain"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
)

func (s *Server) ListOrders(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status     string `form:"status"`
		CustomerID string `form:"customer_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), orderdomain.ListRequest{
		Status:     strings.TrimSpace(query.Status),
		CustomerID: strings.TrimSpace(query.CustomerID),
		PageToken:  strings.TrimSpace(query.PageToken),
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	profile, err := s.profileRepo.FindByOrderID(c.Request.Context(), s.db, order.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	events, err := s.paymentSvc.OrderEvents(c.Request.Context(), order.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"order": order, "profile": profile, "payment_events": events}})
}

// RetryOrder re-drives provisioning in the background. Orders that are not
// in a retryable status are skipped by the orchestrator itself.
func (s *Server) RetryOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.runner.Go(c.Request.Context(), "admin_retry_order", func(ctx context.Context) error {
		_, err := s.provisioner.Provision(ctx, order.ID)
		return err
	})
	s.recordAudit(c, authorization.ActionOrderRetry, authorization.ObjectOrder, order.ID.String(), map[string]any{
		"status": string(order.Status),
	})

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"order_id": order.ID.String(), "status": "accepted"}})
}

func (s *Server) ResendReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := s.pipeline.ResendReceipt(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, authorization.ActionOrderResendReceipt, authorization.ObjectOrder, id.String(), nil)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type refundOrderRequest struct {
	AmountCents *int64 `json:"amount_cents"`
	Method      string `json:"method"`
	Reason      string `json:"reason"`
}

func (s *Server) RefundOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req refundOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	order, err := s.refundSvc.Refund(c.Request.Context(), refunddomain.Request{
		OrderID:     id,
		Method:      refunddomain.Method(strings.ToLower(strings.TrimSpace(req.Method))),
		AmountCents: req.AmountCents,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	metadata := map[string]any{
		"reason":      strings.TrimSpace(req.Reason),
		"payment_ref": order.PaymentReference(),
	}
	if order.RefundAmountCents != nil {
		metadata["amount_cents"] = *order.RefundAmountCents
	}
	if order.RefundMethod != nil {
		metadata["method"] = *order.RefundMethod
	}
	s.recordAudit(c, authorization.ActionOrderRefund, authorization.ObjectOrder, order.ID.String(), metadata)

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type topUpRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

// TopUpCustomer credits a stored balance. The reference makes the credit
// idempotent; without one a fresh reference is minted per call.
func (s *Server) TopUpCustomer(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.AmountCents <= 0 {
		AbortWithError(c, newValidationError("amount_cents", "invalid_amount_cents", "amount_cents must be positive"))
		return
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	if reference == "" {
		reference = "admin_" + ulid.Make().String()
	}

	entry, err := s.ledgerSvc.TopUp(c.Request.Context(), id, req.AmountCents, reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, authorization.ActionCustomerTopUp, authorization.ObjectCustomer, id.String(), map[string]any{
		"amount_cents": req.AmountCents,
		"reference":    reference,
	})

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

type adjustOrderRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// AdjustOrder applies a promo or discount to an order still awaiting
// payment.
func (s *Server) AdjustOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req adjustOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	adjustment, err := s.orderSvc.AdjustPendingAmount(c.Request.Context(), id, req.AmountCents, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, authorization.ActionOrderAdjust, authorization.ObjectOrder, id.String(), map[string]any{
		"previous_amount_cents": adjustment.PreviousAmountCents,
		"amount_cents":          adjustment.Order.AmountCents,
		"reason":                adjustment.Reason,
	})

	c.JSON(http.StatusOK, gin.H{"data": adjustment})
}
