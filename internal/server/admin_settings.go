package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/simstore/internal/authorization"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
)

func (s *Server) GetSettings(c *gin.Context) {
	settings, err := s.settingsSvc.Get(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) UpdateSettings(c *gin.Context) {
	var patch settingsdomain.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	settings, err := s.settingsSvc.Update(c.Request.Context(), patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, authorization.ActionSettingsUpdate, authorization.ObjectSettings, "", settingsPatchMetadata(patch))

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func settingsPatchMetadata(patch settingsdomain.Patch) map[string]any {
	metadata := map[string]any{}
	if patch.MarkupPercent != nil {
		metadata[settingsdomain.KeyMarkupPercent] = *patch.MarkupPercent
	}
	if patch.CommissionPercent != nil {
		metadata[settingsdomain.KeyCommissionPercent] = *patch.CommissionPercent
	}
	if patch.MinChargeUSDCents != nil {
		metadata[settingsdomain.KeyMinChargeUSDCents] = *patch.MinChargeUSDCents
	}
	if patch.MockMode != nil {
		metadata[settingsdomain.KeyMockMode] = *patch.MockMode
	}
	if len(patch.SKUOverrides) > 0 {
		metadata[settingsdomain.KeySKUOverrides] = patch.SKUOverrides
	}
	return metadata
}
