package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/flowvane/creditdesk/internal/authorization"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListLedger(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectLedger, authorization.ActionView) {
		return
	}

	filter, ok := s.ledgerFilter(c, orgID)
	if !ok {
		return
	}

	entries, nextCursor, err := s.ledgerSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "next_cursor": nextCursor})
}

// ListMachineLedger is the API-key variant; the org scope comes from the
// query because the key identifies a provider, not an org.
func (s *Server) ListMachineLedger(c *gin.Context) {
	key := s.apiKeyFromContext(c)
	orgID, ok := queryID(c, "org_id")
	if !ok || orgID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter, filterOK := s.ledgerFilter(c, orgID)
	if !filterOK {
		return
	}
	filter.ProviderID = key.ProviderID

	entries, nextCursor, err := s.ledgerSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "next_cursor": nextCursor})
}

func (s *Server) ledgerFilter(c *gin.Context, orgID snowflake.ID) (ledgerdomain.ListFilter, bool) {
	providerID, ok := queryID(c, "provider_id")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return ledgerdomain.ListFilter{}, false
	}
	startAt, ok := queryTime(c, "start_at")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return ledgerdomain.ListFilter{}, false
	}
	endAt, ok := queryTime(c, "end_at")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return ledgerdomain.ListFilter{}, false
	}

	return ledgerdomain.ListFilter{
		OrgID:      orgID,
		ProviderID: providerID,
		ReasonCode: ledgerdomain.ReasonCode(strings.TrimSpace(c.Query("reason_code"))),
		StartAt:    startAt,
		EndAt:      endAt,
		Limit:      queryLimit(c, 50, 200),
		Cursor:     strings.TrimSpace(c.Query("cursor")),
	}, true
}
