package server

import (
	"net/http"

	"github.com/flowvane/creditdesk/internal/authorization"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetBalance(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	providerID, ok := queryID(c, "provider_id")
	if !ok || providerID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectBalance, authorization.ActionView) {
		return
	}

	balance, err := s.balanceSvc.GetBalance(c.Request.Context(), orgID, providerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) GetBalances(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectBalance, authorization.ActionView) {
		return
	}

	balances, total, err := s.balanceSvc.GetBalances(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances, "total": total})
}

func (s *Server) GetPacing(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	providerID, ok := queryID(c, "provider_id")
	if !ok || providerID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectBalance, authorization.ActionView) {
		return
	}

	pacing, err := s.balanceSvc.GetPacing(c.Request.Context(), orgID, providerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pacing)
}
