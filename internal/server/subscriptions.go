package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/flowvane/creditdesk/internal/authorization"
	subscriptiondomain "github.com/flowvane/creditdesk/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

type createSubscriptionRequest struct {
	ProviderID  string    `json:"provider_id"`
	BundleID    string    `json:"bundle_id"`
	ExternalRef string    `json:"external_ref"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionCreate) {
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	providerID, err := snowflakeFromString(req.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		OrgID:       orgID,
		ProviderID:  providerID,
		BundleID:    strings.TrimSpace(req.BundleID),
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionView) {
		return
	}

	subs, err := s.subscriptionSvc.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (s *Server) GetSubscription(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	subID, ok := pathID(c, "subscriptionId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionView) {
		return
	}

	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), orgID, subID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	subID, ok := pathID(c, "subscriptionId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionManage) {
		return
	}

	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.subscriptionSvc.Cancel(c.Request.Context(), orgID, subID.String(), req.AtPeriodEnd); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
