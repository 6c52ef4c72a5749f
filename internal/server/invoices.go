package server

import (
	"io"
	"net/http"

	"github.com/flowvane/creditdesk/internal/authorization"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListInvoices(c *gin.Context) {
	orgID, ok := pathID(c, "orgId")
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	if !s.authorizeOrg(c, orgID, authorization.ObjectInvoice, authorization.ActionView) {
		return
	}

	invoices, err := s.invoiceSvc.ListByOrg(c.Request.Context(), orgID, queryLimit(c, 50, 200))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) GetOrderInvoice(c *gin.Context) {
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
	if !s.authorizeOrg(c, orgID, authorization.ObjectInvoice, authorization.ActionView) {
		return
	}

	invoice, err := s.invoiceSvc.GetByOrder(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) RenderOrderReceipt(c *gin.Context) {
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
	if !s.authorizeOrg(c, orgID, authorization.ObjectInvoice, authorization.ActionView) {
		return
	}

	document, err := s.invoiceSvc.RenderReceipt(c.Request.Context(), orgID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `inline; filename="receipt-`+orderID.String()+`.pdf"`)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, document)
}
