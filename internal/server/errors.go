package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	bizconfigdomain "github.com/atelierhq/atelier/internal/bizconfig/domain"
	customerdomain "github.com/atelierhq/atelier/internal/customer/domain"
	invoicingdomain "github.com/atelierhq/atelier/internal/invoicing/domain"
	stockdomain "github.com/atelierhq/atelier/internal/stock/domain"
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

	// Set only for insufficient stock rejections.
	SKU       string `json:"sku,omitempty"`
	Requested int64  `json:"requested,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
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

	var stockErr *stockdomain.InsufficientStockError
	if errors.As(err, &stockErr) {
		available := stockErr.Available
		return http.StatusConflict, errorPayload{
			Type:      "insufficient_stock",
			Message:   stockErr.Error(),
			SKU:       stockErr.SKU,
			Requested: stockErr.Requested,
			Available: &available,
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
	case errors.Is(err, invoicingdomain.ErrInvalidStateTransition),
		errors.Is(err, invoicingdomain.ErrNotPastDue),
		errors.Is(err, stockdomain.ErrItemExists),
		errors.Is(err, stockdomain.ErrItemReferenced):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
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
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isInvoiceValidationError(err),
		isStockValidationError(err),
		isCustomerValidationError(err),
		isSettingValidationError(err):
		return true
	default:
		return false
	}
}

func isInvoiceValidationError(err error) bool {
	switch {
	case errors.Is(err, invoicingdomain.ErrInvalidInvoiceID),
		errors.Is(err, invoicingdomain.ErrInvalidCustomer),
		errors.Is(err, invoicingdomain.ErrNoLines),
		errors.Is(err, invoicingdomain.ErrInvalidLine),
		errors.Is(err, invoicingdomain.ErrInvalidDueDate),
		errors.Is(err, invoicingdomain.ErrInvalidPayment):
		return true
	default:
		return false
	}
}

func isStockValidationError(err error) bool {
	switch {
	case errors.Is(err, stockdomain.ErrInvalidSKU),
		errors.Is(err, stockdomain.ErrInvalidName),
		errors.Is(err, stockdomain.ErrInvalidQuantity):
		return true
	default:
		return false
	}
}

func isCustomerValidationError(err error) bool {
	switch {
	case errors.Is(err, customerdomain.ErrInvalidName),
		errors.Is(err, customerdomain.ErrInvalidEmail),
		errors.Is(err, customerdomain.ErrInvalidID):
		return true
	default:
		return false
	}
}

func isSettingValidationError(err error) bool {
	switch {
	case errors.Is(err, bizconfigdomain.ErrInvalidKey),
		errors.Is(err, bizconfigdomain.ErrInvalidValue):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicingdomain.ErrInvoiceNotFound),
		errors.Is(err, stockdomain.ErrItemNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, bizconfigdomain.ErrSettingNotFound),
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
