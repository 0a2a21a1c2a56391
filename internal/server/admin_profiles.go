package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/simstore/internal/authorization"
	profiledomain "github.com/smallbiznis/simstore/internal/profile/domain"
)

type profileAction func(ctx context.Context, profileID snowflake.ID) (*profiledomain.Profile, error)

func (s *Server) SuspendProfile(c *gin.Context) {
	s.applyProfileAction(c, authorization.ActionProfileSuspend, s.provisioner.Suspend)
}

func (s *Server) UnsuspendProfile(c *gin.Context) {
	s.applyProfileAction(c, authorization.ActionProfileUnsuspend, s.provisioner.Unsuspend)
}

func (s *Server) RevokeProfile(c *gin.Context) {
	s.applyProfileAction(c, authorization.ActionProfileRevoke, s.provisioner.Revoke)
}

func (s *Server) applyProfileAction(c *gin.Context, action string, apply profileAction) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	profile, err := apply(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, action, authorization.ObjectProfile, id.String(), map[string]any{
		"order_id": profile.OrderID.String(),
		"status":   profile.Status,
	})

	c.JSON(http.StatusOK, gin.H{"data": profile})
}
