package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dustin/go-humanize"
	"github.com/smallbiznis/simstore/internal/config"
	customerdomain "github.com/smallbiznis/simstore/internal/customer/domain"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
	"github.com/smallbiznis/simstore/internal/providers/pdf"
	"github.com/smallbiznis/simstore/internal/rates"
	"github.com/smallbiznis/simstore/internal/receipt/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02 15:04 MST"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Config      config.Config
	OrderRepo   orderdomain.Repository
	ProfileRepo profiledomain.Repository
	Customers   customerdomain.Service
	Plans       plandomain.Service
	Renderer    pdf.Renderer
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	storeName   string
	storeEmail  string
	orderRepo   orderdomain.Repository
	profileRepo profiledomain.Repository
	customers   customerdomain.Service
	plans       plandomain.Service
	renderer    pdf.Renderer
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("receipt.service"),
		storeName:   p.Config.AppName,
		storeEmail:  p.Config.Email.From,
		orderRepo:   p.OrderRepo,
		profileRepo: p.ProfileRepo,
		customers:   p.Customers,
		plans:       p.Plans,
		renderer:    p.Renderer,
	}
}

func (s *Service) Render(ctx context.Context, orderID snowflake.ID) (*domain.Document, error) {
	order, err := s.orderRepo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if order.Status == orderdomain.StatusPending {
		return nil, domain.ErrNotPaid
	}

	receipt := pdf.Receipt{
		StoreName:     s.storeName,
		StoreEmail:    s.storeEmail,
		OrderID:       order.ID.String(),
		IssuedAt:      order.CreatedAt.UTC().Format(dateLayout),
		PaidAt:        order.UpdatedAt.UTC().Format(dateLayout),
		PaymentMethod: string(order.PaymentMethod),
		PaymentRef:    order.PaymentReference(),
		Status:        string(order.Status),
		PlanName:      order.PlanCode,
		PlanCode:      order.PlanCode,
		Amount:        formatMoney(order.DisplayAmountCents, order.DisplayCurrency),
	}
	if order.DisplayCurrency != rates.ReferenceCurrency {
		receipt.ChargedUSD = formatMoney(order.AmountCents, rates.ReferenceCurrency)
	}
	if order.RefundAmountCents != nil {
		method := ""
		if order.RefundMethod != nil {
			method = " to " + *order.RefundMethod
		}
		receipt.RefundLine = fmt.Sprintf("Refunded %s%s", formatMoney(*order.RefundAmountCents, rates.ReferenceCurrency), method)
		if order.RefundedAt != nil {
			receipt.RefundLine += " on " + order.RefundedAt.UTC().Format(dateLayout)
		}
	}

	if customer, err := s.customers.Get(ctx, order.CustomerID); err == nil && customer != nil && !customer.IsGuest {
		receipt.CustomerEmail = customer.Email
	}

	plan, err := s.plans.Get(ctx, order.PlanCode)
	switch {
	case err == nil:
		receipt.PlanName = plan.Name
		receipt.DataAllow = humanize.IBytes(uint64(max(plan.DataBytes, 0)))
		receipt.Validity = fmt.Sprintf("%d days", plan.DurationDays)
	case errors.Is(err, plandomain.ErrNotFound):
		// Retired plans still get a receipt with the SKU alone.
	default:
		return nil, err
	}

	profile, err := s.profileRepo.FindByOrderID(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		receipt.ICCID = profile.ExternalResourceID
		if profile.ExpiresAt != nil {
			receipt.Validity = "until " + profile.ExpiresAt.UTC().Format(time.DateOnly)
		}
	}

	content, err := s.renderer.RenderReceipt(ctx, receipt)
	if err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return &domain.Document{
		Filename: fmt.Sprintf("receipt-%s.pdf", order.ID.String()),
		Content:  content,
	}, nil
}

func formatMoney(amountMinor int64, currency string) string {
	return rates.FormatMinor(amountMinor, currency) + " " + currency
}
