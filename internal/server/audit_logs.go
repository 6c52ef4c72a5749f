package server

import (
	"net/http"
	"strings"

	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	"github.com/flowvane/creditdesk/internal/authorization"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectAuditLog, authorization.ActionView) {
		return
	}

	startAt, ok := queryTime(c, "start_at")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	endAt, ok := queryTime(c, "end_at")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	logs, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		StartAt:    startAt,
		EndAt:      endAt,
		Limit:      queryLimit(c, 50, 200),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}
