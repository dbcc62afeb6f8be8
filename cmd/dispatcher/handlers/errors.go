package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/loomery/loom/common/models"
)

// statusFor maps stable error codes onto HTTP statuses
func statusFor(code string) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeWorkflowInactive,
		models.CodeContractInvalid,
		models.CodeInvalidEdge,
		models.CodeNoEntry,
		models.CodeCycleDetected:
		return http.StatusUnprocessableEntity
	case models.CodePolicyNodeBlocked,
		models.CodePolicyModelBlocked,
		models.CodePolicyCostExceeded,
		models.CodePolicyTokensExceeded:
		return http.StatusForbidden
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	case models.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error as a stable JSON envelope
func respondError(c echo.Context, err error) error {
	var coded *models.CodedError
	if errors.As(err, &coded) {
		return c.JSON(statusFor(coded.Code), map[string]interface{}{
			"error": coded.Message,
			"code":  coded.Code,
		})
	}
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": "internal error",
	})
}
