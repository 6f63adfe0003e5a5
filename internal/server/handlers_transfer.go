package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/transfer"
	"github.com/pkozlov/bankledger/internal/validation"
)

type initiateTransferRequest struct {
	FromAccount    string `json:"from_account" binding:"required"`
	ToAccount      string `json:"to_account" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Description    string `json:"description"`
	SecurityAnswer string `json:"security_answer" binding:"required"`
}

func (s *Server) initiateTransfer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req initiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if errs := validation.Validate(
		validation.ValidAccountNumber("from_account", req.FromAccount),
		validation.ValidAccountNumber("to_account", req.ToAccount),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, 255),
	); len(errs) > 0 {
		respondDomainError(c, errs)
		return
	}

	init, err := s.transfers.Initiate(c.Request.Context(), transfer.InitiateParams{
		UserID:         userID,
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         decimal.RequireFromString(req.Amount),
		Description:    validation.SanitizeString(req.Description, 255),
		SecurityAnswer: req.SecurityAnswer,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Transfer initiated. Confirm with the OTP sent to you.", init)
}

type completeTransferRequest struct {
	Reference string `json:"transaction_ref" binding:"required"`
	OTP       string `json:"otp" binding:"required"`
}

func (s *Server) completeTransfer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req completeTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if errs := validation.Validate(
		validation.ValidOTP("otp", req.OTP),
	); len(errs) > 0 {
		respondDomainError(c, errs)
		return
	}

	tx, err := s.transfers.Complete(c.Request.Context(), transfer.CompleteParams{
		UserID:    userID,
		Reference: req.Reference,
		OTP:       req.OTP,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Transfer completed successfully", tx)
}
