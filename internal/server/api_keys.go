package server

import (
	"net/http"
	"strings"

	apikeydomain "github.com/flowvane/creditdesk/internal/apikey/domain"
	"github.com/flowvane/creditdesk/internal/authorization"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectAPIKey, authorization.ActionView) {
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), providerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

type createAPIKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectAPIKey, authorization.ActionManage) {
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	secret, err := s.apiKeySvc.Create(c.Request.Context(), apikeydomain.CreateRequest{
		ProviderID: providerID,
		Name:       strings.TrimSpace(req.Name),
		Scopes:     req.Scopes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The plaintext key appears in this response only.
	c.JSON(http.StatusCreated, secret)
}

func (s *Server) RotateAPIKey(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectAPIKey, authorization.ActionManage) {
		return
	}

	secret, err := s.apiKeySvc.Rotate(c.Request.Context(), providerID, strings.TrimSpace(c.Param("keyId")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, secret)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	providerID, ok := pathID(c, "providerId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeProvider(c, providerID, authorization.ObjectAPIKey, authorization.ActionManage) {
		return
	}

	if err := s.apiKeySvc.Revoke(c.Request.Context(), providerID, strings.TrimSpace(c.Param("keyId"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
