package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/simstore/internal/audit/domain"
	"github.com/smallbiznis/simstore/internal/authorization"
	checkoutdomain "github.com/smallbiznis/simstore/internal/checkout/domain"
	commissiondomain "github.com/smallbiznis/simstore/internal/commission/domain"
	customerdomain "github.com/smallbiznis/simstore/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/simstore/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/simstore/internal/order/domain"
	paymentdomain "github.com/smallbiznis/simstore/internal/payment/domain"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	provisioningdomain "github.com/smallbiznis/simstore/internal/provisioning/domain"
	receiptdomain "github.com/smallbiznis/simstore/internal/receipt/domain"
	refunddomain "github.com/smallbiznis/simstore/internal/refund/domain"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	sideeffectdomain "github.com/smallbiznis/simstore/internal/sideeffect/domain"
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
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
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
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidAPIKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isUnprocessableError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    unprocessableType(err),
			Message: unprocessableMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable),
		errors.Is(err, provisioningdomain.ErrProviderUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_unavailable",
			Message: "upstream service unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the same taxonomy the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
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
		errors.Is(err, checkoutdomain.ErrInvalidAmount),
		errors.Is(err, checkoutdomain.ErrInvalidCurrency),
		errors.Is(err, checkoutdomain.ErrInvalidPaymentMethod),
		errors.Is(err, checkoutdomain.ErrInvalidPlan),
		errors.Is(err, customerdomain.ErrInvalidEmail),
		errors.Is(err, plandomain.ErrInvalidCode),
		errors.Is(err, plandomain.ErrInvalidPrice),
		errors.Is(err, orderdomain.ErrInvalidID),
		errors.Is(err, orderdomain.ErrInvalidStatus),
		errors.Is(err, orderdomain.ErrInvalidPageToken),
		errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, orderdomain.ErrReasonRequired),
		errors.Is(err, commissiondomain.ErrInvalidAffiliate),
		errors.Is(err, refunddomain.ErrInvalidAmount),
		errors.Is(err, refunddomain.ErrInvalidMethod),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, settingsdomain.ErrInvalidMarkup),
		errors.Is(err, settingsdomain.ErrInvalidCommission),
		errors.Is(err, settingsdomain.ErrInvalidMinCharge),
		errors.Is(err, settingsdomain.ErrInvalidOverride),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, refunddomain.ErrOrderNotFound),
		errors.Is(err, receiptdomain.ErrOrderNotFound),
		errors.Is(err, sideeffectdomain.ErrOrderNotFound),
		errors.Is(err, provisioningdomain.ErrOrderNotFound),
		errors.Is(err, provisioningdomain.ErrProfileNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrCustomerNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, refunddomain.ErrAlreadyRefunded),
		errors.Is(err, refunddomain.ErrNotRefundable),
		errors.Is(err, sideeffectdomain.ErrNotProvisioned),
		errors.Is(err, receiptdomain.ErrNotPaid),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, ledgerdomain.ErrDuplicateEntry):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, refunddomain.ErrAlreadyRefunded):
		return "order already refunded"
	case errors.Is(err, refunddomain.ErrNotRefundable):
		return "order is not refundable in its current status"
	case errors.Is(err, sideeffectdomain.ErrNotProvisioned):
		return "order has no provisioned profile yet"
	case errors.Is(err, receiptdomain.ErrNotPaid):
		return "order is not paid"
	case errors.Is(err, ledgerdomain.ErrDuplicateEntry):
		return "top-up reference already applied"
	default:
		return "conflict"
	}
}

// isUnprocessableError covers well-formed requests the store declines.
func isUnprocessableError(err error) bool {
	switch {
	case errors.Is(err, checkoutdomain.ErrInsufficientBalance),
		errors.Is(err, checkoutdomain.ErrBelowMinimumCharge),
		errors.Is(err, checkoutdomain.ErrAmountBelowPrice),
		errors.Is(err, checkoutdomain.ErrRejected),
		errors.Is(err, paymentdomain.ErrGatewayRejected),
		errors.Is(err, provisioningdomain.ErrProviderRejected):
		return true
	default:
		return false
	}
}

func unprocessableType(err error) string {
	for _, target := range []error{
		checkoutdomain.ErrInsufficientBalance,
		checkoutdomain.ErrBelowMinimumCharge,
		checkoutdomain.ErrAmountBelowPrice,
		checkoutdomain.ErrRejected,
		paymentdomain.ErrGatewayRejected,
		provisioningdomain.ErrProviderRejected,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "unprocessable"
}

func unprocessableMessage(err error) string {
	switch {
	case errors.Is(err, checkoutdomain.ErrInsufficientBalance):
		return "balance does not cover the order"
	case errors.Is(err, checkoutdomain.ErrBelowMinimumCharge):
		return "amount is below the minimum charge"
	case errors.Is(err, checkoutdomain.ErrAmountBelowPrice):
		return "amount is below the plan price"
	case errors.Is(err, checkoutdomain.ErrRejected):
		return "checkout rejected"
	default:
		return "request declined upstream"
	}
}

func validationErrorCode(err error) string {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && len(vErr.Errors) > 0 {
		return vErr.Errors[0].Code
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

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
