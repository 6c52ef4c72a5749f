package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/flowvane/creditdesk/internal/authorization"
	worklogdomain "github.com/flowvane/creditdesk/internal/worklog/domain"
	"github.com/gin-gonic/gin"
)

type createWorkLogRequest struct {
	OrgID       string    `json:"org_id"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Minutes     int64     `json:"minutes"`
}

// CreateWorkLog is the machine entry point: the API key fixes the provider,
// the body names the org whose credit is drawn down.
func (s *Server) CreateWorkLog(c *gin.Context) {
	key := s.apiKeyFromContext(c)

	var req createWorkLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := snowflakeFromString(req.OrgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	performedBy, err := snowflakeFromString(req.PerformedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !s.allowWorkLog(c, orgID.String()) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	workLog, err := s.workLogSvc.CreateAndAllocate(c.Request.Context(), worklogdomain.CreateRequest{
		OrgID:       orgID,
		ProviderID:  key.ProviderID,
		PerformedBy: performedBy,
		PerformedAt: req.PerformedAt,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		Minutes:     req.Minutes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, workLog)
}

func (s *Server) ListWorkLogs(c *gin.Context) {
	key := s.apiKeyFromContext(c)

	orgID, ok := queryID(c, "org_id")
	if !ok || orgID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	filter, ok := s.workLogFilter(c, orgID)
	if !ok {
		return
	}
	filter.ProviderID = key.ProviderID

	logs, err := s.workLogSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_logs": logs})
}

// ListOrgWorkLogs is the buyer-side view of the same records.
func (s *Server) ListOrgWorkLogs(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectWorkLog, authorization.ActionView) {
		return
	}

	filter, ok := s.workLogFilter(c, orgID)
	if !ok {
		return
	}

	logs, err := s.workLogSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_logs": logs})
}

func (s *Server) workLogFilter(c *gin.Context, orgID snowflake.ID) (worklogdomain.ListFilter, bool) {
	providerID, ok := queryID(c, "provider_id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return worklogdomain.ListFilter{}, false
	}
	startAt, ok := queryTime(c, "start_at")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return worklogdomain.ListFilter{}, false
	}
	endAt, ok := queryTime(c, "end_at")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return worklogdomain.ListFilter{}, false
	}

	return worklogdomain.ListFilter{
		OrgID:      orgID,
		ProviderID: providerID,
		StartAt:    startAt,
		EndAt:      endAt,
		Limit:      queryLimit(c, 50, 200),
	}, true
}
