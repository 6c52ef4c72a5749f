package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/flowvane/creditdesk/internal/authorization"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListLots(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	providerID, ok := queryID(c, "provider_id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectLot, authorization.ActionView) {
		return
	}

	lots, err := s.lotSvc.ListByOrg(c.Request.Context(), orgID, providerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": lots})
}

type grantManualLotRequest struct {
	ProviderID string    `json:"provider_id"`
	Minutes    int64     `json:"minutes"`
	ExpiresAt  time.Time `json:"expires_at"`
	Notes      string    `json:"notes"`
}

// GrantManualLot issues goodwill or migration credit outside the checkout
// flow. Admin only; the grant posts a manual_adjustment ledger entry.
func (s *Server) GrantManualLot(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectLot, authorization.ActionManage) {
		return
	}

	var req grantManualLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	providerID, err := snowflakeFromString(req.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	lot, err := s.lotSvc.GrantManual(c.Request.Context(), creditlotdomain.CreateLotRequest{
		OrgID:      orgID,
		ProviderID: providerID,
		Minutes:    req.Minutes,
		ExpiresAt:  req.ExpiresAt,
	}, strings.TrimSpace(req.Notes))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, lot)
}

// GetMachineBalance serves the provider tooling's view of one org's balance.
func (s *Server) GetMachineBalance(c *gin.Context) {
	key := s.apiKeyFromContext(c)

	orgID, ok := queryID(c, "org_id")
	if !ok || orgID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.balanceSvc.GetBalance(c.Request.Context(), orgID, key.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}
