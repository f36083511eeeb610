package settlement_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/identity"
	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/logging"
	"github.com/congo-pay/upi_settle/internal/notification"
	"github.com/congo-pay/upi_settle/internal/secret"
	"github.com/congo-pay/upi_settle/internal/settlement"
	"github.com/congo-pay/upi_settle/internal/store"
)

const testPIN = "1234"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (n *recordingNotifier) Send(_ context.Context, e notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

type fixture struct {
	store    *store.Memory
	accounts *account.Service
	ledger   *ledger.Service
	notifier *recordingNotifier
	svc      *settlement.Service
	mobile   int
}

func newFixture(t *testing.T, opts settlement.Options) *fixture {
	t.Helper()
	mem := store.NewMemory()
	hasher := secret.NewBcrypt(bcrypt.MinCost)
	accounts := account.NewService(mem, hasher, nil)
	led := ledger.NewService(mem, logging.Discard(), true)
	notifier := &recordingNotifier{}
	resolver, err := identity.NewResolver(mem, hasher)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	if opts.Notifier == nil {
		opts.Notifier = notifier
	}
	if opts.Halt == nil {
		opts.Halt = led
	}
	return &fixture{
		store:    mem,
		accounts: accounts,
		ledger:   led,
		notifier: notifier,
		svc:      settlement.NewService(mem, accounts, resolver, opts),
		mobile:   9_800_000_000,
	}
}

func (f *fixture) user(t *testing.T, balance string) account.Account {
	t.Helper()
	f.mobile++
	acct, err := f.accounts.RegisterUser(context.Background(), account.UserInput{
		Name:     "Payer",
		IFSC:     "SBIN0001234",
		Balance:  decimal.RequireFromString(balance),
		Mobile:   strconv.Itoa(f.mobile),
		Password: "secret-pass",
		PIN:      testPIN,
	})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return acct
}

func (f *fixture) merchant(t *testing.T, balance string) account.Account {
	t.Helper()
	acct, err := f.accounts.RegisterMerchant(context.Background(), account.MerchantInput{
		Name:     "Chai Stall",
		IFSC:     "HDFC0004321",
		Balance:  decimal.RequireFromString(balance),
		Password: "secret-pass",
	})
	if err != nil {
		t.Fatalf("register merchant: %v", err)
	}
	return acct
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acct, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return acct.Balance
}

func (f *fixture) blocks(t *testing.T) []ledger.Block {
	t.Helper()
	blocks, err := f.store.Blocks(context.Background())
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	return blocks
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSettleMovesFundsAndChainsBlock(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	ctx := context.Background()
	a := f.user(t, "500")
	b := f.merchant(t, "100")

	first, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("200")})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !f.balance(t, a.ID).Equal(amount("300")) || !f.balance(t, b.ID).Equal(amount("300")) {
		t.Fatalf("unexpected balances %s / %s", f.balance(t, a.ID), f.balance(t, b.ID))
	}
	if first.PrevBlockID != ledger.GenesisID || first.BlockHeight != 1 {
		t.Fatalf("first block should follow genesis, got %+v", first)
	}

	second, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("50.25")})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if second.PrevBlockID != first.BlockID {
		t.Fatalf("expected prev %s, got %s", first.BlockID, second.PrevBlockID)
	}
	if !second.PayerBalance.Add(second.PayeeBalance).Equal(amount("600")) {
		t.Fatalf("funds not conserved: %s + %s", second.PayerBalance, second.PayeeBalance)
	}

	rec, err := f.store.Transaction(ctx, second.TransactionID)
	if err != nil {
		t.Fatalf("transaction record: %v", err)
	}
	if rec.PayerID != a.ID || rec.PayeeID != b.ID || !rec.Amount.Equal(amount("50.25")) {
		t.Fatalf("unexpected record %+v", rec)
	}

	if res, _ := f.ledger.Verify(ctx); !res.Valid || res.Examined != 2 {
		t.Fatalf("expected valid two-block chain, got %+v", res)
	}
	if len(f.notifier.events) != 2 || f.notifier.events[1].BlockID != second.BlockID {
		t.Fatalf("expected one event per settlement, got %+v", f.notifier.events)
	}
}

func TestSettleInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	ctx := context.Background()
	a := f.user(t, "300")
	b := f.merchant(t, "100")

	_, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("1000")})
	if !errors.Is(err, settlement.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !f.balance(t, a.ID).Equal(amount("300")) || !f.balance(t, b.ID).Equal(amount("100")) {
		t.Fatalf("balances changed on failure")
	}
	if len(f.blocks(t)) != 0 {
		t.Fatalf("no block expected")
	}
	if txs, _ := f.store.Transactions(ctx); len(txs) != 0 {
		t.Fatalf("no transaction record expected")
	}
}

func TestSettleRejectsBadInput(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	ctx := context.Background()
	a := f.user(t, "300")
	b := f.merchant(t, "100")

	cases := map[string]struct {
		req  settlement.Request
		want error
	}{
		"zero amount":     {settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("0")}, settlement.ErrInvalidAmount},
		"negative amount": {settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("-5")}, settlement.ErrInvalidAmount},
		"sub-paisa":       {settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("1.001")}, settlement.ErrInvalidAmount},
		"wrong pin":       {settlement.Request{MMID: a.MMID, PIN: "9999", PayeeID: b.ID, Amount: amount("10")}, identity.ErrInvalidPIN},
		"unknown mmid":    {settlement.Request{MMID: "aaaaaaaaaaaa", PIN: testPIN, PayeeID: b.ID, Amount: amount("10")}, account.ErrNotFound},
		"malformed mmid":  {settlement.Request{MMID: "nope", PIN: testPIN, PayeeID: b.ID, Amount: amount("10")}, identity.ErrMalformedMMID},
		"unknown payee":   {settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: "0000000000000000", Amount: amount("10")}, account.ErrNotFound},
		"payer as payee":  {settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: a.ID, Amount: amount("10")}, settlement.ErrSamePayerPayee},
	}
	for name, tc := range cases {
		if _, err := f.svc.Settle(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
	if !f.balance(t, a.ID).Equal(amount("300")) || len(f.blocks(t)) != 0 {
		t.Fatalf("rejected requests must not mutate state")
	}
}

func TestSettleCollisionExhausted(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	gen := ids.New(func() time.Time { return fixed })
	f := newFixture(t, settlement.Options{IDs: gen, IDAttempts: 3})
	ctx := context.Background()
	a := f.user(t, "100")
	b := f.merchant(t, "0")

	err := f.store.Atomic(ctx, func(ctx context.Context, tx settlement.Tx) error {
		for i := 0; i < 3; i++ {
			at := fixed.Add(time.Duration(i) * time.Microsecond)
			rec := ledger.Transaction{
				ID:        ids.TransactionID(a.ID, b.ID, amount("25"), at),
				PayerID:   a.ID,
				PayeeID:   b.ID,
				Amount:    amount("25"),
				Timestamp: at,
			}
			if err := tx.InsertTransaction(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed transactions: %v", err)
	}

	_, err = f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("25")})
	if !errors.Is(err, ids.ErrCollision) {
		t.Fatalf("expected collision error, got %v", err)
	}
	if !f.balance(t, a.ID).Equal(amount("100")) || !f.balance(t, b.ID).IsZero() {
		t.Fatalf("balances changed after exhausted retries")
	}
	if len(f.blocks(t)) != 0 {
		t.Fatalf("no block expected")
	}
}

func TestSettleCollisionRetriesWithLaterTimestamp(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	gen := ids.New(func() time.Time { return fixed })
	f := newFixture(t, settlement.Options{IDs: gen, IDAttempts: 3})
	ctx := context.Background()
	a := f.user(t, "100")
	b := f.merchant(t, "0")

	taken := ledger.Transaction{ID: ids.TransactionID(a.ID, b.ID, amount("25"), fixed), PayerID: a.ID, PayeeID: b.ID, Amount: amount("25"), Timestamp: fixed}
	if err := f.store.Atomic(ctx, func(ctx context.Context, tx settlement.Tx) error { return tx.InsertTransaction(ctx, taken) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("25")})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.TransactionID == taken.ID || !res.SettledAt.After(fixed) {
		t.Fatalf("expected a fresh id from a later timestamp, got %+v", res)
	}
}

type failingAppendUnit struct {
	*store.Memory
}

func (u failingAppendUnit) Atomic(ctx context.Context, fn func(context.Context, settlement.Tx) error) error {
	return u.Memory.Atomic(ctx, func(ctx context.Context, tx settlement.Tx) error {
		return fn(ctx, failingAppendTx{tx})
	})
}

type failingAppendTx struct {
	settlement.Tx
}

func (failingAppendTx) AppendBlock(context.Context, string, time.Time) (ledger.Block, error) {
	return ledger.Block{}, errors.New("disk full")
}

func TestSettleRollsBackWhenAppendFails(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	resolver, err := identity.NewResolver(f.store, secret.NewBcrypt(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	f.svc = settlement.NewService(failingAppendUnit{f.store}, f.accounts, resolver, settlement.Options{Notifier: f.notifier})
	ctx := context.Background()
	a := f.user(t, "100")
	b := f.merchant(t, "0")

	if _, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("40")}); err == nil {
		t.Fatalf("expected failure")
	}
	if !f.balance(t, a.ID).Equal(amount("100")) || !f.balance(t, b.ID).IsZero() {
		t.Fatalf("balance change survived a failed append")
	}
	if txs, _ := f.store.Transactions(ctx); len(txs) != 0 {
		t.Fatalf("transaction record survived a failed append")
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("no event expected for a failed settlement")
	}
}

func TestSettleNotifierFailureKeepsSettlement(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	f.notifier.err = errors.New("broker down")
	ctx := context.Background()
	a := f.user(t, "100")
	b := f.merchant(t, "0")

	if _, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("40")}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !f.balance(t, b.ID).Equal(amount("40")) {
		t.Fatalf("settlement should stand when publishing fails")
	}
}

func TestConcurrentSettlementsNeverOverdraw(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	ctx := context.Background()
	a := f.user(t, "1000")
	b := f.merchant(t, "0")
	c := f.merchant(t, "0")

	const workers = 40
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		payee := b.ID
		if i%2 == 1 {
			payee = c.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: payee, Amount: amount("30")})
			if err != nil && !errors.Is(err, settlement.ErrInsufficientFunds) {
				t.Errorf("settle: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 33 {
		t.Fatalf("expected 33 settlements to fit in 1000, got %d", succeeded)
	}
	total := f.balance(t, a.ID).Add(f.balance(t, b.ID)).Add(f.balance(t, c.ID))
	if !total.Equal(amount("1000")) {
		t.Fatalf("funds not conserved: %s", total)
	}
	if f.balance(t, a.ID).IsNegative() {
		t.Fatalf("payer overdrawn")
	}
	if blocks := f.blocks(t); len(blocks) != succeeded {
		t.Fatalf("expected %d blocks, got %d", succeeded, len(blocks))
	}
	if res, _ := f.ledger.Verify(ctx); !res.Valid {
		t.Fatalf("chain broken under concurrency: %+v", res)
	}
}

func TestSettleRefusedAfterTamperWhenHalting(t *testing.T) {
	f := newFixture(t, settlement.Options{})
	ctx := context.Background()
	a := f.user(t, "100")
	b := f.merchant(t, "0")

	if _, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("10")}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	store.TamperBlock(f.store, 1, func(b *ledger.Block) { b.TransactionID = "ffffffffffffffff" })

	res, err := f.ledger.Verify(ctx)
	if err != nil || res.Valid || res.Position != 1 {
		t.Fatalf("expected tamper at block 1, got %+v (%v)", res, err)
	}
	if _, err := f.svc.Settle(ctx, settlement.Request{MMID: a.MMID, PIN: testPIN, PayeeID: b.ID, Amount: amount("10")}); !errors.Is(err, settlement.ErrLedgerHalted) {
		t.Fatalf("expected halted ledger, got %v", err)
	}
}
