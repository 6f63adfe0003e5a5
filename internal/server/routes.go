package server

import (
	"github.com/pkozlov/bankledger/internal/health"
	"github.com/pkozlov/bankledger/internal/idempotency"
	"github.com/pkozlov/bankledger/internal/metrics"
)

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", health.LiveHandler(Version))
	s.router.GET("/health/ready", s.checks.ReadyHandler())
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Side-effecting endpoints honor Idempotency-Key.
	idem := idempotency.Middleware(s.idemStore, s.cfg.IdempotencyTTL)

	bank := v1.Group("/bank-account")
	{
		bank.POST("", s.openAccount)
		bank.GET("/:id/balance", s.getBalance)
		bank.GET("/transactions", s.listTransactions)
		bank.GET("/statement", s.getStatement)

		bank.POST("/deposit", idem, s.deposit)
		bank.POST("/withdraw", idem, s.withdraw)
		bank.POST("/transfer/initiate", idem, s.initiateTransfer)
		bank.POST("/transfer/complete", s.completeTransfer)
	}

	v1.POST("/virtual-card/:id/top-up", idem, s.topUpCard)

	txs := v1.Group("/transactions")
	{
		txs.GET("/risk-history", s.riskHistory)
		txs.POST("/:id/review", s.reviewTransaction)
	}
}
