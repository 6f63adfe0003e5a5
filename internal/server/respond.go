package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
	"github.com/pkozlov/bankledger/internal/idempotency"
	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/risk"
	"github.com/pkozlov/bankledger/internal/transfer"
	"github.com/pkozlov/bankledger/internal/user"
	"github.com/pkozlov/bankledger/internal/validation"
)

func respondOK(c *gin.Context, message string, data any) {
	body := gin.H{"status": "success", "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"status": "error", "message": message})
}

// respondDomainError maps domain errors onto the response envelope. Held
// transfers carry the risk breakdown and a support action so the client
// can explain the hold.
func respondDomainError(c *gin.Context, err error) {
	var held *transfer.HeldError
	if errors.As(err, &held) {
		c.JSON(http.StatusForbidden, gin.H{
			"status":  "error",
			"message": "Transaction flagged for review. Our team will contact you shortly.",
			"action":  "CONTACT_SUPPORT",
			"risk_analysis": gin.H{
				"reference":    held.Reference,
				"risk_score":   held.Assessment.Score,
				"risk_factors": held.Assessment.Factors,
			},
		})
		return
	}

	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Validation failed",
			"errors":  verrs,
		})
		return
	}

	switch {
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, risk.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, account.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Insufficient balance for this transaction.",
			"action":  "FUND_ACCOUNT",
		})
	case errors.Is(err, account.ErrInactive):
		respondError(c, http.StatusForbidden, "Account cannot transact in its current state.")
	case errors.Is(err, transfer.ErrSecurityAnswer):
		respondError(c, http.StatusForbidden, "Security answer verification failed.")
	case errors.Is(err, transfer.ErrInvalidOTP):
		respondError(c, http.StatusBadRequest, "Invalid OTP. The transfer has been cancelled.")
	case errors.Is(err, transfer.ErrOTPExpired):
		respondError(c, http.StatusBadRequest, "OTP has expired. The transfer has been cancelled.")
	case errors.Is(err, transfer.ErrSelfTransfer),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingDetails),
		errors.Is(err, currency.ErrUnsupportedPair),
		errors.Is(err, idempotency.ErrInvalidKey):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotPending),
		errors.Is(err, ledger.ErrAlreadyExists),
		errors.Is(err, account.ErrDuplicateNumber),
		errors.Is(err, risk.ErrNotReviewable):
		respondError(c, http.StatusConflict, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// requireUser aborts with 401 unless the identity middleware put a caller
// on the context.
func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"status":  "error",
			"message": "X-User-ID header is required",
		})
		return "", false
	}
	return userID, true
}
