package server

import (
	"errors"
	"net/http"
	"strings"

	apikeydomain "github.com/flowvane/creditdesk/internal/apikey/domain"
	auditdomain "github.com/flowvane/creditdesk/internal/audit/domain"
	"github.com/flowvane/creditdesk/internal/authorization"
	balancedomain "github.com/flowvane/creditdesk/internal/balance/domain"
	bundledomain "github.com/flowvane/creditdesk/internal/bundle/domain"
	creditlotdomain "github.com/flowvane/creditdesk/internal/creditlot/domain"
	fulfillmentdomain "github.com/flowvane/creditdesk/internal/fulfillment/domain"
	invoicedomain "github.com/flowvane/creditdesk/internal/invoice/domain"
	ledgerdomain "github.com/flowvane/creditdesk/internal/ledger/domain"
	orderdomain "github.com/flowvane/creditdesk/internal/order/domain"
	organizationdomain "github.com/flowvane/creditdesk/internal/organization/domain"
	paymentdomain "github.com/flowvane/creditdesk/internal/payment/domain"
	providerdomain "github.com/flowvane/creditdesk/internal/provider/domain"
	subscriptiondomain "github.com/flowvane/creditdesk/internal/subscription/domain"
	worklogdomain "github.com/flowvane/creditdesk/internal/worklog/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, organizationdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, organizationdomain.ErrInvalidEmail),
		errors.Is(err, organizationdomain.ErrInvalidRole),
		errors.Is(err, organizationdomain.ErrInviteNotPending),
		errors.Is(err, providerdomain.ErrInvalidName),
		errors.Is(err, providerdomain.ErrInvalidUser),
		errors.Is(err, bundledomain.ErrInvalidName),
		errors.Is(err, bundledomain.ErrInvalidHours),
		errors.Is(err, bundledomain.ErrInvalidPrice),
		errors.Is(err, bundledomain.ErrInvalidBillingType),
		errors.Is(err, bundledomain.ErrInvalidProvider),
		errors.Is(err, bundledomain.ErrInvalidBundle),
		errors.Is(err, bundledomain.ErrBundleInactive),
		errors.Is(err, orderdomain.ErrInvalidOrganization),
		errors.Is(err, orderdomain.ErrInvalidOrder),
		errors.Is(err, creditlotdomain.ErrInvalidOrganization),
		errors.Is(err, creditlotdomain.ErrInvalidProvider),
		errors.Is(err, creditlotdomain.ErrInvalidMinutes),
		errors.Is(err, creditlotdomain.ErrInvalidExpiry),
		errors.Is(err, ledgerdomain.ErrInvalidOrganization),
		errors.Is(err, ledgerdomain.ErrInvalidTimeRange),
		errors.Is(err, balancedomain.ErrInvalidOrganization),
		errors.Is(err, worklogdomain.ErrInvalidOrganization),
		errors.Is(err, worklogdomain.ErrInvalidProvider),
		errors.Is(err, worklogdomain.ErrInvalidPerformer),
		errors.Is(err, worklogdomain.ErrInvalidMinutes),
		errors.Is(err, worklogdomain.ErrInvalidPerformedAt),
		errors.Is(err, worklogdomain.ErrInvalidCategory),
		errors.Is(err, worklogdomain.ErrInvalidDescription),
		errors.Is(err, invoicedomain.ErrInvalidOrganization),
		errors.Is(err, invoicedomain.ErrInvalidOrder),
		errors.Is(err, subscriptiondomain.ErrInvalidSubscription),
		errors.Is(err, subscriptiondomain.ErrInvalidBundle),
		errors.Is(err, subscriptiondomain.ErrInvalidPeriod),
		errors.Is(err, subscriptiondomain.ErrInvalidOrganization),
		errors.Is(err, apikeydomain.ErrInvalidProvider),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKeyID),
		errors.Is(err, apikeydomain.ErrInvalidScope),
		errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, fulfillmentdomain.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, fulfillmentdomain.ErrOrderNotFound),
		errors.Is(err, creditlotdomain.ErrLotNotFound),
		errors.Is(err, organizationdomain.ErrInviteNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog tags request log lines with the mapped error family.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
