package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/validation"
)

type openAccountRequest struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Currency string `json:"currency" binding:"required"`
}

func (s *Server) openAccount(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	cur := currency.Code(req.Currency)
	if !cur.Valid() {
		respondError(c, http.StatusBadRequest, "Unsupported currency: "+req.Currency)
		return
	}
	kind := account.KindBankAccount
	if req.Kind != "" {
		kind = account.Kind(req.Kind)
		if kind != account.KindBankAccount && kind != account.KindVirtualCard {
			respondError(c, http.StatusBadRequest, "Unknown account kind: "+req.Kind)
			return
		}
	}

	number, err := s.numbers.Generate(cur)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	a := &account.Account{
		ID:       idgen.New(),
		UserID:   userID,
		Number:   number,
		Name:     validation.SanitizeString(req.Name, 100),
		Kind:     kind,
		Currency: cur,
		Balance:  decimal.Zero,
		Status:   account.StatusActive,
	}
	if err := s.accounts.Create(c.Request.Context(), a); err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Account created successfully", a)
}

func (s *Server) getBalance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	a, err := s.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if a.UserID != userID {
		respondDomainError(c, account.ErrNotFound)
		return
	}

	respondOK(c, "Balance retrieved", gin.H{
		"account_id": a.ID,
		"number":     a.Number,
		"balance":    a.Balance,
		"currency":   a.Currency,
		"status":     a.Status,
	})
}
