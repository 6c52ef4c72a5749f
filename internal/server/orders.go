package server

import (
	"net/http"
	"strings"

	"github.com/flowvane/creditdesk/internal/authorization"
	orderdomain "github.com/flowvane/creditdesk/internal/order/domain"
	"github.com/gin-gonic/gin"
)

type createCheckoutRequest struct {
	BundleID string `json:"bundle_id"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionCreate) {
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.CreateCheckout(c.Request.Context(), orderdomain.CreateCheckoutRequest{
		OrgID:    orgID,
		BundleID: strings.TrimSpace(req.BundleID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (s *Server) ListOrders(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionView) {
		return
	}

	orders, err := s.orderSvc.ListByOrg(c.Request.Context(), orgID, queryLimit(c, 50, 200))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) GetOrder(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	orderID, ok := pathID(c, "orderId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrder, authorization.ActionView) {
		return
	}

	order, err := s.orderSvc.GetByID(c.Request.Context(), orgID, orderID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
