package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/simstore/internal/authorization"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
)

type planView struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	DataBytes     int64  `json:"data_bytes"`
	DurationDays  int    `json:"duration_days"`
	PriceUSDCents int64  `json:"price_usd_cents"`
}

// ListPlans is the storefront catalog. Prices include per-SKU overrides.
func (s *Server) ListPlans(c *gin.Context) {
	ctx := c.Request.Context()
	plans, err := s.planSvc.List(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	settings, err := s.settingsSvc.Get(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]planView, 0, len(plans))
	for _, plan := range plans {
		views = append(views, planView{
			Code:          plan.Code,
			Name:          plan.Name,
			DataBytes:     plan.DataBytes,
			DurationDays:  plan.DurationDays,
			PriceUSDCents: settings.RetailPrice(plan.Code, plan.RetailUSDCents),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) AdminListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

type upsertPlanRequest struct {
	Name               string `json:"name"`
	RetailUSDCents     int64  `json:"retail_usd_cents"`
	ProviderPriceUnits int64  `json:"provider_price_units"`
	DataBytes          int64  `json:"data_bytes"`
	DurationDays       int    `json:"duration_days"`
	Active             *bool  `json:"active"`
}

// UpsertPlan creates or replaces a catalog entry. Setting active=false
// retires the SKU from checkout without touching existing orders.
func (s *Server) UpsertPlan(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	var req upsertPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	plan, err := s.planSvc.Upsert(c.Request.Context(), plandomain.Plan{
		Code:               code,
		Name:               req.Name,
		RetailUSDCents:     req.RetailUSDCents,
		ProviderPriceUnits: req.ProviderPriceUnits,
		DataBytes:          req.DataBytes,
		DurationDays:       req.DurationDays,
		Active:             active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, authorization.ActionPlanUpdate, authorization.ObjectPlan, plan.Code, map[string]any{
		"retail_usd_cents": plan.RetailUSDCents,
		"active":           plan.Active,
	})

	c.JSON(http.StatusOK, gin.H{"data": plan})
}
