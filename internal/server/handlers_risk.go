package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkozlov/bankledger/internal/risk"
)

func (s *Server) riskHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	f := risk.HistoryFilter{
		UserID: userID,
		Limit:  limit,
	}
	if min := c.Query("min_score"); min != "" {
		v, err := strconv.ParseFloat(min, 64)
		if err != nil || v < 0 || v > 1 {
			respondError(c, http.StatusBadRequest, "min_score must be between 0 and 1")
			return
		}
		f.MinScore = v
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

	scores, err := s.riskService.History(c.Request.Context(), f)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOK(c, "Risk history retrieved", gin.H{
		"scores": scores,
		"count":  len(scores),
	})
}

type reviewRequest struct {
	IsFraud bool   `json:"is_fraud"`
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

func (s *Server) reviewTransaction(c *gin.Context) {
	reviewerID, ok := requireUser(c)
	if !ok {
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tx, err := s.riskService.Review(c.Request.Context(), risk.ReviewParams{
		TransactionID: c.Param("id"),
		IsFraud:       req.IsFraud,
		Approve:       req.Approve,
		Notes:         req.Notes,
		ReviewedBy:    reviewerID,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	message := "Transaction cleared"
	if req.IsFraud {
		message = "Transaction confirmed as fraud"
	}
	respondOK(c, message, tx)
}
