package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatementRow is one line of an account statement, shaped for external
// rendering (CSV, PDF) by a downstream consumer.
type StatementRow struct {
	Date            time.Time       `json:"date"`
	Reference       string          `json:"reference"`
	Type            Type            `json:"type"`
	Description     string          `json:"description"`
	Direction       string          `json:"direction"` // "credit" or "debit"
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ConvertedAmount string          `json:"converted_amount,omitempty"`
	ExchangeRate    string          `json:"exchange_rate,omitempty"`
	Fee             string          `json:"fee,omitempty"`
	Status          Status          `json:"status"`
}

// StatementParams selects the statement period and scope.
type StatementParams struct {
	UserID    string
	AccountID string // optional, restrict to one account
	From      time.Time
	To        time.Time
}

// Statement returns the user's completed and failed transactions in the
// period, oldest first, as renderable rows.
func (l *Ledger) Statement(ctx context.Context, p StatementParams) ([]StatementRow, error) {
	txs, _, err := l.store.List(ctx, Filter{
		UserID:    p.UserID,
		AccountID: p.AccountID,
		From:      p.From,
		To:        p.To,
		Limit:     1000,
	})
	if err != nil {
		return nil, err
	}

	// List returns newest first; statements read oldest first.
	rows := make([]StatementRow, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if tx.Status == StatusPending {
			continue
		}
		rows = append(rows, statementRow(tx, p.AccountID, p.UserID))
	}
	return rows, nil
}

func statementRow(tx *Transaction, accountID, userID string) StatementRow {
	row := StatementRow{
		Date:        tx.CreatedAt,
		Reference:   tx.Reference,
		Type:        tx.Type,
		Description: tx.Description,
		Direction:   direction(tx, accountID, userID),
		Amount:      tx.Amount,
		Currency:    string(tx.Currency),
		Status:      tx.Status,
	}
	if s, ok := tx.Metadata[MetaConvertedAmount].(string); ok {
		row.ConvertedAmount = s
	}
	if s, ok := tx.Metadata[MetaExchangeRate].(string); ok {
		row.ExchangeRate = s
	}
	if s, ok := tx.Metadata[MetaFee].(string); ok {
		row.Fee = s
	}
	return row
}

func direction(tx *Transaction, accountID, userID string) string {
	switch tx.Type {
	case TypeDeposit, TypeInterestCredit, TypeLoanDisbursement:
		return "credit"
	case TypeWithdrawal, TypeFee, TypeLoanRepayment:
		return "debit"
	}
	// Transfers and top-ups depend on which side of the movement the
	// statement reader is on.
	if accountID != "" {
		if tx.ReceiverAccountID == accountID {
			return "credit"
		}
		return "debit"
	}
	if userID != "" && tx.ReceiverID == userID && tx.SenderID != userID {
		return "credit"
	}
	return "debit"
}
