package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/settlement"
)

// chainLockKey identifies the transaction-scoped advisory lock that
// serializes every append to the blocks table.
const chainLockKey int64 = 0x75706931

const uniqueViolation = "23505"

const (
	accountColumns = `id, kind, name, ifsc, balance::text, password_hash, COALESCE(pin_hash, ''::bytea),
        COALESCE(mobile, ''), COALESCE(mmid, ''), created_at`
	transactionColumns = `id, payer_id, payee_id, amount::text, created_at`
	blockColumns       = `height, id, transaction_id, prev_id, created_at`
)

// Postgres persists accounts, transaction records and the block chain in
// PostgreSQL.
type Postgres struct {
	db *pgxpool.Pool
}

var (
	_ account.Repository    = (*Postgres)(nil)
	_ ledger.Store          = (*Postgres)(nil)
	_ settlement.UnitOfWork = (*Postgres)(nil)
)

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Create inserts a new account.
func (p *Postgres) Create(ctx context.Context, acct account.Account) error {
	_, err := p.db.Exec(ctx, `INSERT INTO accounts (id, kind, name, ifsc, balance, password_hash, pin_hash, mobile, mmid, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		acct.ID, string(acct.Kind), acct.Name, acct.IFSC, acct.Balance.String(), acct.PasswordHash,
		nullBytes(acct.PINHash), nullString(acct.Mobile), nullString(acct.MMID), acct.CreatedAt.UTC())
	return translateAccountErr(err)
}

// Get fetches an account by primary key.
func (p *Postgres) Get(ctx context.Context, id string) (account.Account, error) {
	return scanAccount(p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// FindByMMID resolves a payer through the unique mmid index.
func (p *Postgres) FindByMMID(ctx context.Context, mmid string) (account.Account, error) {
	return scanAccount(p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE mmid = $1`, mmid))
}

// Update locks the account row, applies fn and writes the result back.
func (p *Postgres) Update(ctx context.Context, id string, fn func(*account.Account) error) (account.Account, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return account.Account{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	acct, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return account.Account{}, err
	}
	if err := fn(&acct); err != nil {
		return account.Account{}, err
	}
	if acct.ID != id {
		return account.Account{}, fmt.Errorf("%w: id is immutable", account.ErrInvalidInput)
	}

	_, err = tx.Exec(ctx, `UPDATE accounts SET name = $2, ifsc = $3, balance = $4, password_hash = $5,
        pin_hash = $6, mobile = $7, mmid = $8 WHERE id = $1`,
		id, acct.Name, acct.IFSC, acct.Balance.String(), acct.PasswordHash,
		nullBytes(acct.PINHash), nullString(acct.Mobile), nullString(acct.MMID))
	if err != nil {
		return account.Account{}, translateAccountErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// Append chains an already recorded transaction after the latest block.
func (p *Postgres) Append(ctx context.Context, transactionID string) (ledger.Block, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ledger.Block{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	ptx := &postgresTx{tx: tx}
	block, err := ptx.AppendBlock(ctx, transactionID, time.Now())
	if err != nil {
		return ledger.Block{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Block{}, err
	}
	return block, nil
}

// Latest returns the most recent block, if any.
func (p *Postgres) Latest(ctx context.Context) (ledger.Block, bool, error) {
	return latestBlock(ctx, p.db)
}

// Blocks reads the whole chain inside a read-only repeatable-read
// transaction so concurrent appends cannot shift the snapshot.
func (p *Postgres) Blocks(ctx context.Context) ([]ledger.Block, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY height`)
	if err != nil {
		return nil, err
	}
	blocks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Block, error) {
		return scanBlock(row)
	})
	if err != nil {
		return nil, err
	}
	return blocks, tx.Commit(ctx)
}

// Transaction fetches a single transaction record.
func (p *Postgres) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	rec, err := scanTransaction(p.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return rec, err
}

// Transactions lists transaction records oldest first.
func (p *Postgres) Transactions(ctx context.Context) ([]ledger.Transaction, error) {
	return p.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY created_at, id`)
}

// Unchained lists transaction records that no block references.
func (p *Postgres) Unchained(ctx context.Context) ([]ledger.Transaction, error) {
	return p.queryTransactions(ctx, `SELECT t.id, t.payer_id, t.payee_id, t.amount::text, t.created_at
        FROM transactions t
        LEFT JOIN blocks b ON b.transaction_id = t.id
        WHERE b.id IS NULL
        ORDER BY t.created_at, t.id`)
}

// Atomic runs fn inside a single database transaction.
func (p *Postgres) Atomic(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) queryTransactions(ctx context.Context, query string) ([]ledger.Transaction, error) {
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Transaction, error) {
		return scanTransaction(row)
	})
}

type postgresTx struct {
	tx          pgx.Tx
	chainLocked bool
}

func (t *postgresTx) LockAccounts(ctx context.Context, ids ...string) (map[string]account.Account, error) {
	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)

	out := make(map[string]account.Account, len(ordered))
	for _, id := range ordered {
		acct, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", account.ErrNotFound, id)
			}
			return nil, err
		}
		out[id] = acct
	}
	return out, nil
}

func (t *postgresTx) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balance.String())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", account.ErrNotFound, id)
	}
	return nil
}

func (t *postgresTx) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (t *postgresTx) InsertTransaction(ctx context.Context, rec ledger.Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (id, payer_id, payee_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.PayerID, rec.PayeeID, rec.Amount.String(), rec.Timestamp.UTC())
	return err
}

func (t *postgresTx) AppendBlock(ctx context.Context, transactionID string, now time.Time) (ledger.Block, error) {
	if !t.chainLocked {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
			return ledger.Block{}, fmt.Errorf("lock chain: %w", err)
		}
		t.chainLocked = true
	}

	var recorded, chained bool
	err := t.tx.QueryRow(ctx, `SELECT
            EXISTS (SELECT 1 FROM transactions WHERE id = $1),
            EXISTS (SELECT 1 FROM blocks WHERE transaction_id = $1)`, transactionID).Scan(&recorded, &chained)
	if err != nil {
		return ledger.Block{}, err
	}
	if !recorded {
		return ledger.Block{}, ledger.ErrTransactionNotFound
	}
	if chained {
		return ledger.Block{}, ledger.ErrAlreadyChained
	}

	latest, ok, err := latestBlock(ctx, t.tx)
	if err != nil {
		return ledger.Block{}, err
	}
	var prev *ledger.Block
	if ok {
		prev = &latest
	}
	block := ledger.NextBlock(prev, transactionID, now)

	_, err = t.tx.Exec(ctx, `INSERT INTO blocks (height, id, transaction_id, prev_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		int64(block.Height), block.ID, block.TransactionID, block.PrevID, block.Timestamp)
	if err != nil {
		return ledger.Block{}, err
	}
	return block, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestBlock(ctx context.Context, q querier) (ledger.Block, bool, error) {
	block, err := scanBlock(q.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY height DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Block{}, false, nil
	}
	if err != nil {
		return ledger.Block{}, false, err
	}
	return block, true, nil
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		acct    account.Account
		kind    string
		balance string
	)
	err := row.Scan(&acct.ID, &kind, &acct.Name, &acct.IFSC, &balance, &acct.PasswordHash, &acct.PINHash,
		&acct.Mobile, &acct.MMID, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, err
	}
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return account.Account{}, fmt.Errorf("parse balance of %s: %w", acct.ID, err)
	}
	if len(acct.PINHash) == 0 {
		acct.PINHash = nil
	}
	acct.Kind = account.Kind(kind)
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		rec    ledger.Transaction
		amount string
	)
	if err := row.Scan(&rec.ID, &rec.PayerID, &rec.PayeeID, &amount, &rec.Timestamp); err != nil {
		return ledger.Transaction{}, err
	}
	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Transaction{}, fmt.Errorf("parse amount of %s: %w", rec.ID, err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

func scanBlock(row pgx.Row) (ledger.Block, error) {
	var (
		b      ledger.Block
		height int64
	)
	if err := row.Scan(&height, &b.ID, &b.TransactionID, &b.PrevID, &b.Timestamp); err != nil {
		return ledger.Block{}, err
	}
	b.Height = uint64(height)
	b.Timestamp = b.Timestamp.UTC()
	return b, nil
}

func translateAccountErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "accounts_mobile_key":
		return account.ErrMobileTaken
	default:
		return account.ErrIDTaken
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
