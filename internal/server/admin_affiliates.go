package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/simstore/internal/commission/domain"
)

func (s *Server) ListAffiliateCommissions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	commissions, err := s.commissionSvc.ListByAffiliate(c.Request.Context(), id, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if commissions == nil {
		commissions = []commissiondomain.Commission{}
	}

	c.JSON(http.StatusOK, gin.H{"data": commissions})
}
