package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/validation"
)

type depositRequest struct {
	AccountNumber string `json:"account_number" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description"`
	TellerID      string `json:"teller_id"`
}

func (s *Server) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if errs := validation.Validate(
		validation.ValidAccountNumber("account_number", req.AccountNumber),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, 255),
	); len(errs) > 0 {
		respondDomainError(c, errs)
		return
	}

	tx, err := s.ledger.Deposit(c.Request.Context(), ledger.DepositParams{
		AccountNumber: req.AccountNumber,
		Amount:        decimal.RequireFromString(req.Amount),
		Description:   validation.SanitizeString(req.Description, 255),
		TellerID:      req.TellerID,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Deposit completed successfully", tx)
}

type withdrawRequest struct {
	AccountNumber string `json:"account_number" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description"`
}

func (s *Server) withdraw(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if errs := validation.Validate(
		validation.ValidAccountNumber("account_number", req.AccountNumber),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("description", req.Description, 255),
	); len(errs) > 0 {
		respondDomainError(c, errs)
		return
	}

	tx, err := s.ledger.Withdraw(c.Request.Context(), ledger.WithdrawParams{
		UserID:        userID,
		AccountNumber: req.AccountNumber,
		Amount:        decimal.RequireFromString(req.Amount),
		Description:   validation.SanitizeString(req.Description, 255),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Withdrawal completed successfully", tx)
}

type topUpRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (s *Server) topUpCard(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if errs := validation.Validate(
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		respondDomainError(c, errs)
		return
	}

	tx, err := s.ledger.TopUp(c.Request.Context(), ledger.TopUpParams{
		UserID:    userID,
		AccountID: req.AccountID,
		CardID:    c.Param("id"),
		Amount:    decimal.RequireFromString(req.Amount),
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Card topped up successfully", tx)
}

func (s *Server) listTransactions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	f := ledger.Filter{
		UserID:    userID,
		AccountID: c.Query("account_id"),
		Type:      ledger.Type(c.Query("type")),
		Status:    ledger.Status(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD")
			return
		}
		f.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD")
			return
		}
		f.To = t.AddDate(0, 0, 1)
	}

	txs, total, err := s.ledger.List(c.Request.Context(), f)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Transactions retrieved", gin.H{
		"transactions": txs,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

func (s *Server) getStatement(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	p := ledger.StatementParams{
		UserID:    userID,
		AccountID: c.Query("account_id"),
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD")
			return
		}
		p.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			respondError(c, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD")
			return
		}
		p.To = t.AddDate(0, 0, 1)
	}

	rows, err := s.ledger.Statement(c.Request.Context(), p)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Statement generated", gin.H{
		"rows":  rows,
		"count": len(rows),
	})
}
