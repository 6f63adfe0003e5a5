package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/notify"
)

type fixture struct {
	ledger   *Ledger
	accounts *account.MemoryStore
	store    *MemoryStore
	events   *notify.CapturePublisher
}

func newFixture() *fixture {
	accounts := account.NewMemoryStore()
	store := NewMemoryStore(accounts)
	events := notify.NewCapturePublisher()
	return &fixture{
		ledger:   New(store, accounts, events, slog.Default()),
		accounts: accounts,
		store:    store,
		events:   events,
	}
}

var numGen = account.NewNumberGenerator("12", "060")

func (f *fixture) addAccount(t *testing.T, userID, balance string, cur currency.Code, kind account.Kind, status account.Status) *account.Account {
	t.Helper()
	num, err := numGen.Generate(cur)
	if err != nil {
		t.Fatal(err)
	}
	a := &account.Account{
		ID:       idgen.New(),
		UserID:   userID,
		Number:   num,
		Kind:     kind,
		Currency: cur,
		Balance:  decimal.RequireFromString(balance),
		Status:   status,
	}
	if err := f.accounts.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestDeposit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acct := f.addAccount(t, "user-1", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	tx, err := f.ledger.Deposit(ctx, DepositParams{
		AccountNumber: acct.Number,
		Amount:        decimal.RequireFromString("500.00"),
		Description:   "cash deposit",
		TellerID:      "teller-7",
	})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	if tx.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", tx.Status)
	}
	if tx.Reference[:3] != "DEP" {
		t.Errorf("Expected DEP reference, got %s", tx.Reference)
	}
	if tx.Metadata[MetaTellerID] != "teller-7" {
		t.Errorf("Expected teller metadata, got %v", tx.Metadata)
	}
	if tx.Category != CategoryCredit {
		t.Errorf("Expected credit category, got %s", tx.Category)
	}
	if tx.ReceiverID != "user-1" || tx.ProcessedBy != "teller-7" {
		t.Errorf("Expected receiver user-1 processed by teller-7, got %s/%s", tx.ReceiverID, tx.ProcessedBy)
	}
	if !tx.BalanceBefore.IsZero() || !tx.BalanceAfter.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("Expected balance trail 0 -> 500.00, got %s -> %s", tx.BalanceBefore, tx.BalanceAfter)
	}

	got, _ := f.accounts.Get(ctx, acct.ID)
	if !got.Balance.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("Expected balance 500.00, got %s", got.Balance)
	}

	events := f.events.Events()
	if len(events) != 1 || events[0].Type != notify.EventDepositReceived {
		t.Errorf("Expected deposit.received event, got %v", events)
	}
}

func TestDeposit_InactiveAccount(t *testing.T) {
	f := newFixture()
	acct := f.addAccount(t, "user-1", "0", currency.USD, account.KindBankAccount, account.StatusFrozen)

	_, err := f.ledger.Deposit(context.Background(), DepositParams{
		AccountNumber: acct.Number,
		Amount:        decimal.NewFromInt(10),
	})
	if !errors.Is(err, account.ErrInactive) {
		t.Fatalf("Expected ErrInactive, got %v", err)
	}

	// A deposit rejected up front never reaches the ledger.
	txs, total, _ := f.store.List(context.Background(), Filter{UserID: "user-1", Limit: 10})
	if total != 0 || len(txs) != 0 {
		t.Fatalf("Expected no transaction rows, got %v", txs)
	}
}

func TestDeposit_NonPositiveAmount(t *testing.T) {
	f := newFixture()
	for _, amt := range []string{"0", "-5.00"} {
		_, err := f.ledger.Deposit(context.Background(), DepositParams{
			AccountNumber: "1206010000000000",
			Amount:        decimal.RequireFromString(amt),
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Amount %s: expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acct := f.addAccount(t, "user-1", "200.00", currency.EUR, account.KindBankAccount, account.StatusActive)

	tx, err := f.ledger.Withdraw(ctx, WithdrawParams{
		UserID:        "user-1",
		AccountNumber: acct.Number,
		Amount:        decimal.RequireFromString("75.50"),
	})
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if tx.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", tx.Status)
	}
	if tx.Reference[:3] != "WTH" {
		t.Errorf("Expected WTH reference, got %s", tx.Reference)
	}
	if tx.Category != CategoryDebit || tx.SenderID != "user-1" {
		t.Errorf("Expected debit by user-1, got %s/%s", tx.Category, tx.SenderID)
	}
	if !tx.BalanceBefore.Equal(decimal.RequireFromString("200.00")) ||
		!tx.BalanceAfter.Equal(decimal.RequireFromString("124.50")) {
		t.Errorf("Expected balance trail 200.00 -> 124.50, got %s -> %s", tx.BalanceBefore, tx.BalanceAfter)
	}

	got, _ := f.accounts.Get(ctx, acct.ID)
	if !got.Balance.Equal(decimal.RequireFromString("124.50")) {
		t.Errorf("Expected 124.50, got %s", got.Balance)
	}
}

func TestWithdraw_Insufficient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acct := f.addAccount(t, "user-1", "10.00", currency.USD, account.KindBankAccount, account.StatusActive)

	_, err := f.ledger.Withdraw(ctx, WithdrawParams{
		UserID:        "user-1",
		AccountNumber: acct.Number,
		Amount:        decimal.RequireFromString("10.01"),
	})
	if !errors.Is(err, account.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// The rejected withdrawal leaves no row and no balance change.
	txs, total, _ := f.store.List(ctx, Filter{UserID: "user-1", Limit: 10})
	if total != 0 || len(txs) != 0 {
		t.Fatalf("Expected no transaction rows, got %v", txs)
	}
	got, _ := f.accounts.Get(ctx, acct.ID)
	if !got.Balance.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("Balance changed on rejected withdrawal: %s", got.Balance)
	}
}

func TestWithdraw_WrongOwner(t *testing.T) {
	f := newFixture()
	acct := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)

	_, err := f.ledger.Withdraw(context.Background(), WithdrawParams{
		UserID:        "user-2",
		AccountNumber: acct.Number,
		Amount:        decimal.NewFromInt(10),
	})
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for foreign account, got %v", err)
	}
}

func TestTopUp_CrossCurrency(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acct := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	card := f.addAccount(t, "user-1", "0", currency.EUR, account.KindVirtualCard, account.StatusActive)

	tx, err := f.ledger.TopUp(ctx, TopUpParams{
		UserID:    "user-1",
		AccountID: acct.ID,
		CardID:    card.ID,
		Amount:    decimal.RequireFromString("100.00"),
	})
	if err != nil {
		t.Fatalf("TopUp failed: %v", err)
	}
	if tx.Metadata[MetaConvertedAmount] != "92.54" {
		t.Errorf("Expected converted 92.54, got %v", tx.Metadata[MetaConvertedAmount])
	}

	gotCard, _ := f.accounts.Get(ctx, card.ID)
	if !gotCard.Balance.Equal(decimal.RequireFromString("92.54")) {
		t.Errorf("Expected card balance 92.54, got %s", gotCard.Balance)
	}
	gotAcct, _ := f.accounts.Get(ctx, acct.ID)
	if !gotAcct.Balance.IsZero() {
		t.Errorf("Expected account drained, got %s", gotAcct.Balance)
	}
}

func TestTopUp_TargetMustBeCard(t *testing.T) {
	f := newFixture()
	acct := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	other := f.addAccount(t, "user-1", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	_, err := f.ledger.TopUp(context.Background(), TopUpParams{
		UserID:    "user-1",
		AccountID: acct.ID,
		CardID:    other.ID,
		Amount:    decimal.NewFromInt(10),
	})
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-card target, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	receiver := f.addAccount(t, "user-2", "0", currency.EUR, account.KindBankAccount, account.StatusActive)

	quote, err := currency.Convert(decimal.RequireFromString("100.00"), currency.USD, currency.EUR)
	if err != nil {
		t.Fatal(err)
	}
	tx := &Transaction{
		Type:              TypeTransfer,
		UserID:            "user-1",
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          currency.USD,
		Metadata:          ConversionMetadata(quote, currency.EUR),
	}
	if err := f.ledger.CreatePending(ctx, tx); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	done, err := f.ledger.Finalize(ctx, tx.Reference)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}
	// The trail tracks the sender, the debited side of the transfer.
	if !done.BalanceBefore.Equal(decimal.RequireFromString("100.00")) || !done.BalanceAfter.IsZero() {
		t.Errorf("Expected balance trail 100.00 -> 0, got %s -> %s", done.BalanceBefore, done.BalanceAfter)
	}

	gotReceiver, _ := f.accounts.Get(ctx, receiver.ID)
	if !gotReceiver.Balance.Equal(decimal.RequireFromString("92.54")) {
		t.Errorf("Expected receiver 92.54, got %s", gotReceiver.Balance)
	}
}

func TestFinalize_ReceiverSeesIncomingTransfer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	receiver := f.addAccount(t, "user-2", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	quote, _ := currency.Convert(decimal.NewFromInt(60), currency.USD, currency.USD)
	tx := &Transaction{
		Type:              TypeTransfer,
		UserID:            "user-1",
		SenderID:          "user-1",
		ReceiverID:        "user-2",
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            decimal.NewFromInt(60),
		Currency:          currency.USD,
		Metadata:          ConversionMetadata(quote, currency.USD),
	}
	if err := f.ledger.CreatePending(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Finalize(ctx, tx.Reference); err != nil {
		t.Fatal(err)
	}

	// The receiver's history shows the credit, by user and by account.
	byUser, total, err := f.ledger.List(ctx, Filter{UserID: "user-2"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(byUser) != 1 || byUser[0].Reference != tx.Reference {
		t.Fatalf("Receiver history missing the transfer: total=%d rows=%v", total, byUser)
	}
	if byUser[0].Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", byUser[0].Status)
	}

	byAccount, _, err := f.ledger.List(ctx, Filter{AccountID: receiver.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAccount) != 1 {
		t.Fatalf("Expected 1 row for receiver account, got %d", len(byAccount))
	}

	// The sender still sees it as their own activity.
	bySender, _, _ := f.ledger.List(ctx, Filter{UserID: "user-1"})
	if len(bySender) != 1 {
		t.Errorf("Sender history missing the transfer: %v", bySender)
	}
}

func TestFinalize_Twice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	receiver := f.addAccount(t, "user-2", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	quote, _ := currency.Convert(decimal.NewFromInt(50), currency.USD, currency.USD)
	tx := &Transaction{
		Type:              TypeTransfer,
		UserID:            "user-1",
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            decimal.NewFromInt(50),
		Currency:          currency.USD,
		Metadata:          ConversionMetadata(quote, currency.USD),
	}
	f.ledger.CreatePending(ctx, tx)

	if _, err := f.ledger.Finalize(ctx, tx.Reference); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Finalize(ctx, tx.Reference); !errors.Is(err, ErrNotPending) {
		t.Fatalf("Expected ErrNotPending on second finalize, got %v", err)
	}

	// Money moved exactly once
	gotReceiver, _ := f.accounts.Get(ctx, receiver.ID)
	if !gotReceiver.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected 50, got %s", gotReceiver.Balance)
	}
}

func TestFinalize_InsufficientAtSettlementMovesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	receiver := f.addAccount(t, "user-2", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	quote, _ := currency.Convert(decimal.NewFromInt(100), currency.USD, currency.USD)
	tx := &Transaction{
		Type:              TypeTransfer,
		UserID:            "user-1",
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            decimal.NewFromInt(100),
		Currency:          currency.USD,
		Metadata:          ConversionMetadata(quote, currency.USD),
	}
	f.ledger.CreatePending(ctx, tx)

	// The balance drains between initiation and settlement.
	if err := f.accounts.Debit(ctx, sender.ID, decimal.NewFromInt(80)); err != nil {
		t.Fatal(err)
	}

	_, err := f.ledger.Finalize(ctx, tx.Reference)
	if !errors.Is(err, account.ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// Neither side of the settlement went through.
	s, _ := f.accounts.Get(ctx, sender.ID)
	r, _ := f.accounts.Get(ctx, receiver.ID)
	if !s.Balance.Equal(decimal.NewFromInt(20)) || !r.Balance.IsZero() {
		t.Errorf("Balances changed on failed settlement: sender %s receiver %s", s.Balance, r.Balance)
	}

	got, _ := f.store.GetByReference(ctx, tx.Reference)
	if got.Status != StatusFailed || got.FailureReason != FailureInsufficientBalance {
		t.Errorf("Expected failed/INSUFFICIENT_BALANCE, got %s/%s", got.Status, got.FailureReason)
	}
}

func TestFinalize_MissingConversionDetails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	receiver := f.addAccount(t, "user-2", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	tx := &Transaction{
		Type:              TypeTransfer,
		UserID:            "user-1",
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            decimal.NewFromInt(50),
		Currency:          currency.USD,
	}
	f.ledger.CreatePending(ctx, tx)

	_, err := f.ledger.Finalize(ctx, tx.Reference)
	if !errors.Is(err, ErrMissingDetails) {
		t.Fatalf("Expected ErrMissingDetails, got %v", err)
	}

	got, _ := f.store.GetByReference(ctx, tx.Reference)
	if got.FailureReason != FailureSystemError {
		t.Errorf("Expected SYSTEM_ERROR, got %s", got.FailureReason)
	}
}

func TestFinalize_ReopensHeldTransfer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sender := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)
	receiver := f.addAccount(t, "user-2", "0", currency.USD, account.KindBankAccount, account.StatusActive)

	quote, _ := currency.Convert(decimal.NewFromInt(50), currency.USD, currency.USD)
	tx := &Transaction{
		Type:              TypeTransfer,
		UserID:            "user-1",
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            decimal.NewFromInt(50),
		Currency:          currency.USD,
		Metadata:          ConversionMetadata(quote, currency.USD),
	}
	f.ledger.CreatePending(ctx, tx)
	f.ledger.MarkFailed(ctx, tx.Reference, FailureSuspiciousActivity, nil)

	// An approving fraud review settles the held transfer.
	done, err := f.ledger.Finalize(ctx, tx.Reference)
	if err != nil {
		t.Fatalf("Finalize of held transfer failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", done.Status)
	}
}

func TestList_Pagination(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acct := f.addAccount(t, "user-1", "1000.00", currency.USD, account.KindBankAccount, account.StatusActive)

	for i := 0; i < 5; i++ {
		if _, err := f.ledger.Deposit(ctx, DepositParams{
			AccountNumber: acct.Number,
			Amount:        decimal.NewFromInt(int64(i + 1)),
		}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	page, total, err := f.ledger.List(ctx, Filter{UserID: "user-1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(page))
	}

	page2, _, _ := f.ledger.List(ctx, Filter{UserID: "user-1", Limit: 2, Offset: 4})
	if len(page2) != 1 {
		t.Errorf("Expected last page of 1, got %d", len(page2))
	}
}

func TestStatement(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	acct := f.addAccount(t, "user-1", "100.00", currency.USD, account.KindBankAccount, account.StatusActive)

	f.ledger.Deposit(ctx, DepositParams{AccountNumber: acct.Number, Amount: decimal.NewFromInt(50)})
	f.ledger.Withdraw(ctx, WithdrawParams{UserID: "user-1", AccountNumber: acct.Number, Amount: decimal.NewFromInt(20)})

	rows, err := f.ledger.Statement(ctx, StatementParams{
		UserID: "user-1",
		From:   time.Now().Add(-time.Hour),
		To:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Statement failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Direction != "credit" || rows[0].Type != TypeDeposit {
		t.Errorf("Expected deposit credit first, got %+v", rows[0])
	}
	if rows[1].Direction != "debit" || rows[1].Type != TypeWithdrawal {
		t.Errorf("Expected withdrawal debit second, got %+v", rows[1])
	}
}
