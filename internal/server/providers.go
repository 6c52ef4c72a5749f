package server

import (
	"net/http"
	"strings"

	"github.com/flowvane/creditdesk/internal/authorization"
	providerdomain "github.com/flowvane/creditdesk/internal/provider/domain"
	"github.com/gin-gonic/gin"
)

type createProviderRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contact_email"`
}

func (s *Server) CreateProvider(c *gin.Context) {
	var req createProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider, err := s.providerSvc.Create(c.Request.Context(), s.currentUserID(c), providerdomain.CreateProviderRequest{
		Name:         strings.TrimSpace(req.Name),
		ContactEmail: strings.TrimSpace(req.ContactEmail),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, provider)
}

func (s *Server) GetProvider(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	provider, err := s.providerSvc.GetByID(c.Request.Context(), providerID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

type addProviderMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) AddProviderMember(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectOrgMember, authorization.ActionManage) {
		return
	}

	var req addProviderMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.providerSvc.AddMember(c.Request.Context(), s.currentUserID(c), providerID.String(), providerdomain.AddMemberRequest{
		UserID: strings.TrimSpace(req.UserID),
		Role:   strings.TrimSpace(req.Role),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}
