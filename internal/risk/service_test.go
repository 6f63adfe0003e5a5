package risk

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/config"
	"github.com/pkozlov/bankledger/internal/currency"
	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/notify"
)

type fixture struct {
	service  *Service
	scores   *MemoryStore
	ledger   *ledger.Ledger
	txStore  *ledger.MemoryStore
	accounts *account.MemoryStore
	events   *notify.CapturePublisher
}

func newFixture() *fixture {
	accounts := account.NewMemoryStore()
	txStore := ledger.NewMemoryStore(accounts)
	events := notify.NewCapturePublisher()
	scores := NewMemoryStore()
	ldgr := ledger.New(txStore, accounts, events, slog.Default())
	engine := NewEngine(config.DefaultRiskConfig(), txStore)
	return &fixture{
		service:  NewService(engine, scores, ldgr, events, slog.Default()),
		scores:   scores,
		ledger:   ldgr,
		txStore:  txStore,
		accounts: accounts,
		events:   events,
	}
}

var numGen = account.NewNumberGenerator("12", "060")

func (f *fixture) addAccount(t *testing.T, userID, balance string) *account.Account {
	t.Helper()
	num, err := numGen.Generate(currency.USD)
	if err != nil {
		t.Fatal(err)
	}
	a := &account.Account{
		ID:       idgen.New(),
		UserID:   userID,
		Number:   num,
		Kind:     account.KindBankAccount,
		Currency: currency.USD,
		Balance:  decimal.RequireFromString(balance),
		Status:   account.StatusActive,
	}
	if err := f.accounts.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

// pendingTransfer records a USD transfer with conversion details locked
// in, the shape the transfer protocol leaves behind before scoring.
func (f *fixture) pendingTransfer(t *testing.T, sender, receiver *account.Account, amount string) *ledger.Transaction {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	tx := &ledger.Transaction{
		Type:              ledger.TypeTransfer,
		UserID:            sender.UserID,
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            amt,
		Currency:          currency.USD,
		Metadata: ledger.Metadata{
			ledger.MetaConvertedAmount: amt.StringFixed(2),
			ledger.MetaExchangeRate:    "1.0000",
			ledger.MetaFee:             "0.00",
			ledger.MetaTargetCurrency:  "USD",
		},
		CreatedAt: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
	}
	if err := f.ledger.CreatePending(context.Background(), tx); err != nil {
		t.Fatal(err)
	}
	return tx
}

// seedBurst puts enough recent high-value activity on the user to trip
// the frequency and amount signals together.
func (f *fixture) seedBurst(t *testing.T, sender, receiver *account.Account) {
	t.Helper()
	for i := 0; i < 5; i++ {
		tx := &ledger.Transaction{
			ID:                idgen.New(),
			Reference:         idgen.Reference("TRF"),
			Type:              ledger.TypeTransfer,
			Status:            ledger.StatusCompleted,
			UserID:            sender.UserID,
			SenderAccountID:   sender.ID,
			ReceiverAccountID: receiver.ID,
			Amount:            decimal.RequireFromString("9000.00"),
			Currency:          currency.USD,
			ReviewStatus:      ledger.ReviewPending,
			CreatedAt:         time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC).Add(-time.Duration(i+1) * time.Hour),
		}
		if err := f.txStore.Create(context.Background(), tx); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScoreTransfer_ClearedStaysPending(t *testing.T) {
	f := newFixture()
	sender := f.addAccount(t, "user-1", "1000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	tx := f.pendingTransfer(t, sender, receiver, "50.00")

	assessment, held := f.service.ScoreTransfer(context.Background(), tx)

	if held {
		t.Fatalf("Low risk transfer held, score %v", assessment.Score)
	}
	got, err := f.txStore.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.StatusPending {
		t.Errorf("Expected transfer to stay pending, got %s", got.Status)
	}

	score, err := f.scores.GetByTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if score.Value != assessment.Score || score.NeedsReview {
		t.Errorf("Persisted score %+v does not match assessment %+v", score, assessment)
	}
	if score.IsConfirmedFraud != nil {
		t.Errorf("Unreviewed score should carry no fraud verdict, got %v", *score.IsConfirmedFraud)
	}
}

func TestScoreTransfer_HoldsFlaggedTransfer(t *testing.T) {
	f := newFixture()
	sender := f.addAccount(t, "user-1", "50000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	f.seedBurst(t, sender, receiver)
	tx := f.pendingTransfer(t, sender, receiver, "9500.00")

	assessment, held := f.service.ScoreTransfer(context.Background(), tx)

	if !held {
		t.Fatalf("High risk transfer not held, score %v", assessment.Score)
	}
	got, err := f.txStore.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.StatusFailed {
		t.Errorf("Expected held transfer failed, got %s", got.Status)
	}
	if got.FailureReason != ledger.FailureSuspiciousActivity {
		t.Errorf("Expected failure reason %s, got %s", ledger.FailureSuspiciousActivity, got.FailureReason)
	}
	if got.ReviewStatus != ledger.ReviewFlagged {
		t.Errorf("Expected review status flagged, got %s", got.ReviewStatus)
	}
	if got.Metadata["risk_score"] == nil {
		t.Errorf("Expected flag audit metadata, got %v", got.Metadata)
	}

	flagged := false
	for _, ev := range f.events.Events() {
		if ev.Type == notify.EventFraudFlagged && ev.Reference == tx.Reference {
			flagged = true
		}
	}
	if !flagged {
		t.Error("Expected a fraud.flagged event")
	}

	// No money moved on hold.
	s, _ := f.accounts.Get(context.Background(), sender.ID)
	if !s.Balance.Equal(decimal.RequireFromString("50000.00")) {
		t.Errorf("Sender balance changed on hold: %s", s.Balance)
	}
}

func TestReview_ConfirmFraud(t *testing.T) {
	f := newFixture()
	sender := f.addAccount(t, "user-1", "50000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	f.seedBurst(t, sender, receiver)
	tx := f.pendingTransfer(t, sender, receiver, "9500.00")
	if _, held := f.service.ScoreTransfer(context.Background(), tx); !held {
		t.Fatal("Fixture transfer was not held")
	}

	got, err := f.service.Review(context.Background(), ReviewParams{
		TransactionID: tx.ID,
		IsFraud:       true,
		Notes:         "mule account pattern",
		ReviewedBy:    "analyst-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ReviewStatus != ledger.ReviewConfirmedFraud {
		t.Errorf("Expected confirmed_fraud, got %s", got.ReviewStatus)
	}
	if got.Status != ledger.StatusFailed {
		t.Errorf("Confirmed fraud must stay failed, got %s", got.Status)
	}

	score, err := f.scores.GetByTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if score.IsConfirmedFraud == nil || !*score.IsConfirmedFraud || score.ReviewedBy != "analyst-7" {
		t.Errorf("Reviewer verdict not recorded on score: %+v", score)
	}
}

func TestReview_ClearAndApproveSettles(t *testing.T) {
	f := newFixture()
	sender := f.addAccount(t, "user-1", "50000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	f.seedBurst(t, sender, receiver)
	tx := f.pendingTransfer(t, sender, receiver, "9500.00")
	if _, held := f.service.ScoreTransfer(context.Background(), tx); !held {
		t.Fatal("Fixture transfer was not held")
	}

	got, err := f.service.Review(context.Background(), ReviewParams{
		TransactionID: tx.ID,
		Approve:       true,
		ReviewedBy:    "analyst-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ReviewStatus != ledger.ReviewCleared {
		t.Errorf("Expected cleared, got %s", got.ReviewStatus)
	}
	if got.Status != ledger.StatusCompleted {
		t.Errorf("Approved transfer should settle, got %s", got.Status)
	}
	if got.FailureReason != "" {
		t.Errorf("Failure reason should clear on settlement, got %s", got.FailureReason)
	}

	s, _ := f.accounts.Get(context.Background(), sender.ID)
	r, _ := f.accounts.Get(context.Background(), receiver.ID)
	if !s.Balance.Equal(decimal.RequireFromString("40500.00")) {
		t.Errorf("Sender balance = %s, want 40500.00", s.Balance)
	}
	if !r.Balance.Equal(decimal.RequireFromString("9500.00")) {
		t.Errorf("Receiver balance = %s, want 9500.00", r.Balance)
	}

	score, err := f.scores.GetByTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if score.IsConfirmedFraud == nil || *score.IsConfirmedFraud {
		t.Errorf("Cleared review should record a not-fraud verdict, got %+v", score)
	}
}

func TestReview_SettlementFailureKeepsFlagged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "50000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	f.seedBurst(t, sender, receiver)
	tx := f.pendingTransfer(t, sender, receiver, "9500.00")
	if _, held := f.service.ScoreTransfer(ctx, tx); !held {
		t.Fatal("Fixture transfer was not held")
	}

	// The sender's balance drains while the transfer sits in review.
	if err := f.accounts.Debit(ctx, sender.ID, decimal.RequireFromString("50000.00")); err != nil {
		t.Fatal(err)
	}

	_, err := f.service.Review(ctx, ReviewParams{
		TransactionID: tx.ID,
		Approve:       true,
		ReviewedBy:    "analyst-7",
	})
	if !errors.Is(err, account.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// The transfer stays flagged and held so it can be reviewed again.
	got, _ := f.ledger.Get(ctx, tx.ID)
	if got.ReviewStatus != ledger.ReviewFlagged {
		t.Errorf("Expected still flagged, got %s", got.ReviewStatus)
	}
	if got.Status != ledger.StatusFailed || got.FailureReason != ledger.FailureSuspiciousActivity {
		t.Errorf("Expected held transfer unchanged, got %s/%s", got.Status, got.FailureReason)
	}

	// Once the account is funded again a second review settles it.
	if err := f.accounts.Credit(ctx, sender.ID, decimal.RequireFromString("50000.00")); err != nil {
		t.Fatal(err)
	}
	settled, err := f.service.Review(ctx, ReviewParams{
		TransactionID: tx.ID,
		Approve:       true,
		ReviewedBy:    "analyst-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if settled.Status != ledger.StatusCompleted || settled.ReviewStatus != ledger.ReviewCleared {
		t.Errorf("Expected settled and cleared, got %s/%s", settled.Status, settled.ReviewStatus)
	}
}

func TestReview_ClearWithoutApproveLeavesHeld(t *testing.T) {
	f := newFixture()
	sender := f.addAccount(t, "user-1", "50000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	f.seedBurst(t, sender, receiver)
	tx := f.pendingTransfer(t, sender, receiver, "9500.00")
	if _, held := f.service.ScoreTransfer(context.Background(), tx); !held {
		t.Fatal("Fixture transfer was not held")
	}

	got, err := f.service.Review(context.Background(), ReviewParams{
		TransactionID: tx.ID,
		ReviewedBy:    "analyst-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ReviewStatus != ledger.ReviewCleared {
		t.Errorf("Expected cleared, got %s", got.ReviewStatus)
	}
	if got.Status != ledger.StatusFailed {
		t.Errorf("Cleared without approval must not settle, got %s", got.Status)
	}
}

func TestReview_NotFlagged(t *testing.T) {
	f := newFixture()
	sender := f.addAccount(t, "user-1", "1000.00")
	receiver := f.addAccount(t, "user-2", "0.00")
	tx := f.pendingTransfer(t, sender, receiver, "50.00")

	_, err := f.service.Review(context.Background(), ReviewParams{TransactionID: tx.ID, IsFraud: true})
	if !errors.Is(err, ErrNotReviewable) {
		t.Errorf("Expected ErrNotReviewable, got %v", err)
	}
}

func TestHistory_DefaultsLimit(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		err := f.scores.Create(context.Background(), &Score{
			ID:            idgen.New(),
			TransactionID: idgen.New(),
			UserID:        "user-1",
			Value:         0.2,
			ModelVersion:  ModelVersion,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	scores, err := f.service.History(context.Background(), HistoryFilter{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 3 {
		t.Errorf("Expected 3 scores, got %d", len(scores))
	}
}
