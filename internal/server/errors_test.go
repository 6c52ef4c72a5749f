package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	fulfillmentdomain "github.com/flowvane/creditdesk/internal/fulfillment/domain"
	orderdomain "github.com/flowvane/creditdesk/internal/order/domain"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

func newErrorEngine(err error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.POST("/webhooks/stripe", func(c *gin.Context) {
		AbortWithError(c, err)
	})
	return r
}

func deliverWebhook(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	newErrorEngine(err).ServeHTTP(w, req)
	return w
}

func TestWebhookErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		// A delivery that references an order we will never know about is
		// permanent. Anything but a 4xx keeps the provider retrying it.
		{
			name: "unknown order is permanent",
			err:  fmt.Errorf("process event: %w", fulfillmentdomain.ErrOrderNotFound),
			want: http.StatusNotFound,
		},
		{
			name: "order service not found",
			err:  orderdomain.ErrOrderNotFound,
			want: http.StatusNotFound,
		},
		{
			name: "unroutable event type",
			err:  fmt.Errorf("process event: %w", fulfillmentdomain.ErrInvalidEvent),
			want: http.StatusBadRequest,
		},
		{
			name: "bad signature",
			err:  paymentdomain.ErrInvalidSignature,
			want: http.StatusBadRequest,
		},
		{
			name: "unexpected failure keeps retrying",
			err:  fmt.Errorf("db: connection reset"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := deliverWebhook(t, tc.err)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestMapErrorNotFoundPayload(t *testing.T) {
	status, payload := mapError(fmt.Errorf("ingest: %w", fulfillmentdomain.ErrOrderNotFound))
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if payload.Type != "not_found" {
		t.Fatalf("payload type = %q, want %q", payload.Type, "not_found")
	}
}
