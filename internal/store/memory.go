package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/settlement"
)

// Memory is a concurrency-safe in-process store for development and tests.
// Units of work hold the write lock from start to commit, which serializes
// balance mutation and chain appends; readers see only committed state.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[string]account.Account
	byMMID       map[string]string
	byMobile     map[string]string
	transactions map[string]ledger.Transaction
	txOrder      []string
	blocks       []ledger.Block
	chained      map[string]struct{}
}

var (
	_ account.Repository    = (*Memory)(nil)
	_ ledger.Store          = (*Memory)(nil)
	_ settlement.UnitOfWork = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]account.Account),
		byMMID:       make(map[string]string),
		byMobile:     make(map[string]string),
		transactions: make(map[string]ledger.Transaction),
		chained:      make(map[string]struct{}),
	}
}

func (m *Memory) Create(_ context.Context, acct account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[acct.ID]; exists {
		return account.ErrIDTaken
	}
	if acct.Kind == account.KindUser {
		if _, exists := m.byMobile[acct.Mobile]; exists {
			return account.ErrMobileTaken
		}
		if _, exists := m.byMMID[acct.MMID]; exists {
			return account.ErrIDTaken
		}
		m.byMobile[acct.Mobile] = acct.ID
		m.byMMID[acct.MMID] = acct.ID
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return acct, nil
}

func (m *Memory) FindByMMID(_ context.Context, mmid string) (account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byMMID[mmid]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return m.accounts[id], nil
}

func (m *Memory) Update(_ context.Context, id string, fn func(*account.Account) error) (account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.accounts[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	next := current
	if err := fn(&next); err != nil {
		return account.Account{}, err
	}
	if next.ID != current.ID {
		return account.Account{}, fmt.Errorf("%w: id is immutable", account.ErrInvalidInput)
	}
	if next.Balance.IsNegative() {
		return account.Account{}, fmt.Errorf("%w: balance must not be negative", account.ErrInvalidInput)
	}

	if current.Kind == account.KindUser && next.Mobile != current.Mobile {
		if owner, taken := m.byMobile[next.Mobile]; taken && owner != id {
			return account.Account{}, account.ErrMobileTaken
		}
		delete(m.byMobile, current.Mobile)
		delete(m.byMMID, current.MMID)
		m.byMobile[next.Mobile] = id
		m.byMMID[next.MMID] = id
	}
	m.accounts[id] = next
	return next, nil
}

func (m *Memory) Append(_ context.Context, transactionID string) (ledger.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[transactionID]; !ok {
		return ledger.Block{}, ledger.ErrTransactionNotFound
	}
	if _, ok := m.chained[transactionID]; ok {
		return ledger.Block{}, ledger.ErrAlreadyChained
	}
	b := ledger.NextBlock(m.latestLocked(), transactionID, time.Now())
	m.blocks = append(m.blocks, b)
	m.chained[transactionID] = struct{}{}
	return b, nil
}

func (m *Memory) Latest(_ context.Context) (ledger.Block, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b := m.latestLocked(); b != nil {
		return *b, true, nil
	}
	return ledger.Block{}, false, nil
}

func (m *Memory) Blocks(_ context.Context) ([]ledger.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Block, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}

func (m *Memory) Transaction(_ context.Context, id string) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return rec, nil
}

func (m *Memory) Transactions(_ context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Transaction, 0, len(m.txOrder))
	for _, id := range m.txOrder {
		out = append(out, m.transactions[id])
	}
	return out, nil
}

func (m *Memory) Unchained(_ context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Transaction
	for _, id := range m.txOrder {
		if _, ok := m.chained[id]; !ok {
			out = append(out, m.transactions[id])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Atomic runs fn against staged state and publishes the staged writes only
// when fn succeeds.
func (m *Memory) Atomic(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, balances: make(map[string]decimal.Decimal)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, bal := range tx.balances {
		acct := m.accounts[id]
		acct.Balance = bal
		m.accounts[id] = acct
	}
	for _, rec := range tx.transactions {
		m.transactions[rec.ID] = rec
		m.txOrder = append(m.txOrder, rec.ID)
	}
	for _, b := range tx.blocks {
		m.blocks = append(m.blocks, b)
		m.chained[b.TransactionID] = struct{}{}
	}
	return nil
}

func (m *Memory) latestLocked() *ledger.Block {
	if len(m.blocks) == 0 {
		return nil
	}
	return &m.blocks[len(m.blocks)-1]
}

type memoryTx struct {
	store        *Memory
	balances     map[string]decimal.Decimal
	transactions []ledger.Transaction
	blocks       []ledger.Block
}

func (t *memoryTx) LockAccounts(_ context.Context, ids ...string) (map[string]account.Account, error) {
	out := make(map[string]account.Account, len(ids))
	for _, id := range ids {
		acct, ok := t.store.accounts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", account.ErrNotFound, id)
		}
		if bal, staged := t.balances[id]; staged {
			acct.Balance = bal
		}
		out[id] = acct
	}
	return out, nil
}

func (t *memoryTx) SetBalance(_ context.Context, id string, balance decimal.Decimal) error {
	if _, ok := t.store.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", account.ErrNotFound, id)
	}
	if balance.IsNegative() {
		return fmt.Errorf("balance of %s would become negative", id)
	}
	t.balances[id] = balance
	return nil
}

func (t *memoryTx) TransactionExists(_ context.Context, id string) (bool, error) {
	if _, ok := t.store.transactions[id]; ok {
		return true, nil
	}
	for _, rec := range t.transactions {
		if rec.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, rec ledger.Transaction) error {
	exists, err := t.TransactionExists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("transaction %s already recorded", rec.ID)
	}
	t.transactions = append(t.transactions, rec)
	return nil
}

func (t *memoryTx) AppendBlock(_ context.Context, transactionID string, now time.Time) (ledger.Block, error) {
	if !t.hasTransaction(transactionID) {
		return ledger.Block{}, ledger.ErrTransactionNotFound
	}
	if _, ok := t.store.chained[transactionID]; ok {
		return ledger.Block{}, ledger.ErrAlreadyChained
	}
	prev := t.store.latestLocked()
	if n := len(t.blocks); n > 0 {
		prev = &t.blocks[n-1]
	}
	b := ledger.NextBlock(prev, transactionID, now)
	t.blocks = append(t.blocks, b)
	return b, nil
}

func (t *memoryTx) hasTransaction(id string) bool {
	if _, ok := t.store.transactions[id]; ok {
		return true
	}
	for _, rec := range t.transactions {
		if rec.ID == id {
			return true
		}
	}
	return false
}
