package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/simstore/internal/checkout/domain"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
)

type createCheckoutRequest struct {
	PlanCode       string `json:"plan_code"`
	AmountUSDCents int64  `json:"amount_usd_cents"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method"`
	Email          string `json:"email"`
	ReferralCode   string `json:"referral_code"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	method := orderdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if method == "" {
		method = orderdomain.PaymentMethodGateway
	}

	result, err := s.checkoutSvc.CreateCheckout(c.Request.Context(), checkoutdomain.Request{
		PlanCode:       strings.TrimSpace(req.PlanCode),
		AmountUSDCents: req.AmountUSDCents,
		Currency:       strings.TrimSpace(req.Currency),
		PaymentMethod:  method,
		Email:          strings.TrimSpace(req.Email),
		ReferralCode:   strings.TrimSpace(req.ReferralCode),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

type orderProfileView struct {
	ICCID          string     `json:"iccid"`
	ActivationCode string     `json:"activation_code"`
	Status         string     `json:"status"`
	CapacityBytes  int64      `json:"capacity_bytes"`
	UsedBytes      int64      `json:"used_bytes"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type orderStatusView struct {
	OrderID            string            `json:"order_id"`
	Status             string            `json:"status"`
	PlanCode           string            `json:"plan_code"`
	DisplayCurrency    string            `json:"display_currency"`
	DisplayAmountCents int64             `json:"display_amount_cents"`
	Refunded           bool              `json:"refunded"`
	Profile            *orderProfileView `json:"profile,omitempty"`
}

// GetOrderStatus is polled by the storefront after checkout. The profile is
// only exposed once provisioning completed.
func (s *Server) GetOrderStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := orderStatusView{
		OrderID:            order.ID.String(),
		Status:             string(order.Status),
		PlanCode:           order.PlanCode,
		DisplayCurrency:    order.DisplayCurrency,
		DisplayAmountCents: order.DisplayAmountCents,
		Refunded:           order.RefundedAt != nil,
	}
	if order.Status == orderdomain.StatusEsimCreated {
		profile, err := s.profileRepo.FindByOrderID(c.Request.Context(), s.db, order.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		view.Profile = profileView(profile)
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetOrderReceipt(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	doc, err := s.receiptSvc.Render(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+doc.Filename+`"`)
	c.Header("Content-Length", strconv.Itoa(len(doc.Content)))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}

func profileView(profile *profiledomain.Profile) *orderProfileView {
	if profile == nil {
		return nil
	}
	return &orderProfileView{
		ICCID:          profile.ExternalResourceID,
		ActivationCode: profile.ActivationCode,
		Status:         profile.Status,
		CapacityBytes:  profile.CapacityBytes,
		UsedBytes:      profile.UsedBytes,
		ExpiresAt:      profile.ExpiresAt,
	}
}
