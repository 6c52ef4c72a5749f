package server

import (
	"net/http"
	"strings"

	"github.com/flowvane/creditdesk/internal/authorization"
	organizationdomain "github.com/flowvane/creditdesk/internal/organization/domain"
	"github.com/gin-gonic/gin"
)

type createOrganizationRequest struct {
	Name         string `json:"name"`
	SupportEmail string `json:"support_email"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.Create(c.Request.Context(), s.currentUserID(c), organizationdomain.CreateOrganizationRequest{
		Name:         strings.TrimSpace(req.Name),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, org)
}

func (s *Server) ListUserOrganizations(c *gin.Context) {
	orgs, err := s.organizationSvc.ListOrganizationsByUser(c.Request.Context(), s.currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectOrgMember, authorization.ActionView) {
		return
	}

	org, err := s.organizationSvc.GetByID(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

type inviteMembersRequest struct {
	Invites []struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"invites"`
}

func (s *Server) InviteMembers(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req inviteMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Invites) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	invites := make([]organizationdomain.InviteRequest, 0, len(req.Invites))
	for _, invite := range req.Invites {
		invites = append(invites, organizationdomain.InviteRequest{
			Email: strings.TrimSpace(invite.Email),
			Role:  strings.TrimSpace(invite.Role),
		})
	}

	if err := s.organizationSvc.InviteMembers(c.Request.Context(), s.currentUserID(c), orgID.String(), invites); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

func (s *Server) ListInvites(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	invites, err := s.organizationSvc.ListInvites(c.Request.Context(), s.currentUserID(c), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (s *Server) AcceptInvite(c *gin.Context) {
	inviteID, ok := pathID(c, "inviteId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.organizationSvc.AcceptInvite(c.Request.Context(), s.currentUserID(c), inviteID.String()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
