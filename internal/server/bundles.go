package server

import (
	"net/http"
	"strings"

	"github.com/flowvane/creditdesk/internal/authorization"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListBundles(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	bundles, err := s.bundleSvc.ListActive(c.Request.Context(), providerID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": bundles})
}

type createBundleRequest struct {
	Name                         string `json:"name"`
	Hours                        int64  `json:"hours"`
	MonthlyHours                 int64  `json:"monthly_hours"`
	PriceCents                   int64  `json:"price_cents"`
	Currency                     string `json:"currency"`
	BillingType                  string `json:"billing_type"`
	RecommendedMonthlyMinutes    int64  `json:"recommended_monthly_minutes"`
	MonthlyConsumptionCapMinutes int64  `json:"monthly_consumption_cap_minutes"`
}

func (s *Server) CreateBundle(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectBundle, authorization.ActionManage) {
		return
	}

	var req createBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	bundle, err := s.bundleSvc.Create(c.Request.Context(), bundledomain.CreateBundleRequest{
		ProviderID:                   providerID.String(),
		Name:                         strings.TrimSpace(req.Name),
		Hours:                        req.Hours,
		MonthlyHours:                 req.MonthlyHours,
		PriceCents:                   req.PriceCents,
		Currency:                     strings.ToUpper(strings.TrimSpace(req.Currency)),
		BillingType:                  strings.TrimSpace(req.BillingType),
		RecommendedMonthlyMinutes:    req.RecommendedMonthlyMinutes,
		MonthlyConsumptionCapMinutes: req.MonthlyConsumptionCapMinutes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bundle)
}

func (s *Server) GetBundle(c *gin.Context) {
	bundleID, ok := pathID(c, "bundleId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	bundle, err := s.bundleSvc.GetByID(c.Request.Context(), bundleID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) DeactivateBundle(c *gin.Context) {
	bundleID, ok := pathID(c, "bundleId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	bundle, err := s.bundleSvc.GetByID(c.Request.Context(), bundleID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	providerID, err := snowflakeFromString(bundle.ProviderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectBundle, authorization.ActionManage) {
		return
	}

	if err := s.bundleSvc.Deactivate(c.Request.Context(), bundleID.String()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
