package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/logging"
	"github.com/congo-pay/upi_settle/internal/settlement"
	"github.com/congo-pay/upi_settle/internal/store"
)

func seedUser(t *testing.T, m *store.Memory, id, mobile, mmid string) {
	t.Helper()
	err := m.Create(context.Background(), account.Account{
		ID: id, Kind: account.KindUser, Name: "u", IFSC: "SBIN0001234",
		Balance: decimal.NewFromInt(100), Mobile: mobile, MMID: mmid,
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func recordOnly(t *testing.T, m *store.Memory, rec ledger.Transaction) {
	t.Helper()
	err := m.Atomic(context.Background(), func(ctx context.Context, tx settlement.Tx) error {
		return tx.InsertTransaction(ctx, rec)
	})
	if err != nil {
		t.Fatalf("insert %s: %v", rec.ID, err)
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	m := store.NewMemory()
	seedUser(t, m, "aaaaaaaaaaaaaaaa", "9800000001", "111111111111")

	err := m.Create(context.Background(), account.Account{ID: "aaaaaaaaaaaaaaaa", Kind: account.KindMerchant})
	if !errors.Is(err, account.ErrIDTaken) {
		t.Fatalf("expected id taken, got %v", err)
	}
	err = m.Create(context.Background(), account.Account{ID: "bbbbbbbbbbbbbbbb", Kind: account.KindUser, Mobile: "9800000001", MMID: "222222222222"})
	if !errors.Is(err, account.ErrMobileTaken) {
		t.Fatalf("expected mobile taken, got %v", err)
	}
}

func TestUpdateReindexesMMID(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	seedUser(t, m, "aaaaaaaaaaaaaaaa", "9800000001", "111111111111")

	_, err := m.Update(ctx, "aaaaaaaaaaaaaaaa", func(a *account.Account) error {
		a.Mobile = "9800000002"
		a.MMID = "333333333333"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := m.FindByMMID(ctx, "111111111111"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("old alias should be gone, got %v", err)
	}
	if acct, err := m.FindByMMID(ctx, "333333333333"); err != nil || acct.ID != "aaaaaaaaaaaaaaaa" {
		t.Fatalf("new alias not indexed: %v", err)
	}

	_, err = m.Update(ctx, "aaaaaaaaaaaaaaaa", func(a *account.Account) error {
		a.Balance = decimal.NewFromInt(-1)
		return nil
	})
	if !errors.Is(err, account.ErrInvalidInput) {
		t.Fatalf("negative balance should be rejected, got %v", err)
	}
}

func TestAtomicDiscardsStagedWritesOnError(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	seedUser(t, m, "aaaaaaaaaaaaaaaa", "9800000001", "111111111111")

	boom := errors.New("boom")
	err := m.Atomic(ctx, func(ctx context.Context, tx settlement.Tx) error {
		if err := tx.SetBalance(ctx, "aaaaaaaaaaaaaaaa", decimal.NewFromInt(1)); err != nil {
			return err
		}
		rec := ledger.Transaction{ID: "cccccccccccccccc", Amount: decimal.NewFromInt(1), Timestamp: time.Now()}
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return err
		}
		if _, err := tx.AppendBlock(ctx, rec.ID, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	acct, _ := m.Get(ctx, "aaaaaaaaaaaaaaaa")
	if !acct.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("staged balance leaked: %s", acct.Balance)
	}
	if _, err := m.Transaction(ctx, "cccccccccccccccc"); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("staged transaction leaked")
	}
	if _, ok, _ := m.Latest(ctx); ok {
		t.Fatalf("staged block leaked")
	}
}

func TestAppendRequiresRecordedUnchainedTransaction(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	if _, err := m.Append(ctx, "dddddddddddddddd"); !errors.Is(err, ledger.ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	recordOnly(t, m, ledger.Transaction{ID: "dddddddddddddddd", Amount: decimal.NewFromInt(5), Timestamp: time.Now()})
	if _, err := m.Append(ctx, "dddddddddddddddd"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := m.Append(ctx, "dddddddddddddddd"); !errors.Is(err, ledger.ErrAlreadyChained) {
		t.Fatalf("expected already chained, got %v", err)
	}
}

func TestReconcileChainsOrphansOldestFirst(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recordOnly(t, m, ledger.Transaction{ID: "2222222222222222", Amount: decimal.NewFromInt(1), Timestamp: base.Add(time.Second)})
	recordOnly(t, m, ledger.Transaction{ID: "1111111111111111", Amount: decimal.NewFromInt(1), Timestamp: base})

	svc := ledger.NewService(m, logging.Discard(), false)
	appended, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(appended) != 2 || appended[0].TransactionID != "1111111111111111" {
		t.Fatalf("expected oldest orphan first, got %+v", appended)
	}
	if orphans, _ := m.Unchained(ctx); len(orphans) != 0 {
		t.Fatalf("orphans remain: %+v", orphans)
	}
	if res, _ := svc.Verify(ctx); !res.Valid {
		t.Fatalf("reconciled chain invalid: %+v", res)
	}

	again, err := svc.Reconcile(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("second reconcile should be a no-op, got %d (%v)", len(again), err)
	}
}

func TestVerifyReportsTamperedBlockWithoutHalting(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	for _, id := range []string{"1111111111111111", "2222222222222222", "3333333333333333"} {
		recordOnly(t, m, ledger.Transaction{ID: id, Amount: decimal.NewFromInt(1), Timestamp: time.Now()})
		if _, err := m.Append(ctx, id); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if !store.TamperBlock(m, 2, func(b *ledger.Block) { b.Timestamp = b.Timestamp.Add(time.Microsecond) }) {
		t.Fatalf("block 2 missing")
	}

	svc := ledger.NewService(m, logging.Discard(), false)
	res, err := svc.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid || res.Position != 2 {
		t.Fatalf("expected tamper at 2, got %+v", res)
	}
	if svc.Halted() {
		t.Fatalf("report-only policy must not halt")
	}
}
