package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ledger"
)

// Tx is the view of the store inside one atomic unit of work. Nothing
// written through it is visible to other readers until the unit commits.
type Tx interface {
	// LockAccounts takes write locks on the accounts in ascending id order and
	// returns their current rows. A missing id fails with account.ErrNotFound.
	LockAccounts(ctx context.Context, ids ...string) (map[string]account.Account, error)
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error
	TransactionExists(ctx context.Context, id string) (bool, error)
	InsertTransaction(ctx context.Context, rec ledger.Transaction) error
	// AppendBlock chains the transaction after the current latest block. The
	// implementation holds the chain's single-writer lock until commit.
	AppendBlock(ctx context.Context, transactionID string, now time.Time) (ledger.Block, error)
}

// UnitOfWork runs fn atomically: every write made through tx commits
// together when fn returns nil and none survive otherwise.
type UnitOfWork interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
