package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisID is the previous-id recorded by the first block of the chain.
const GenesisID = "0"

var (
	// ErrTransactionNotFound indicates no transaction record has the requested id.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrAlreadyChained indicates the transaction already has a block.
	ErrAlreadyChained = errors.New("transaction already has a ledger block")
)

// Transaction is the immutable record of one settled payment.
type Transaction struct {
	ID        string
	PayerID   string
	PayeeID   string
	Amount    decimal.Decimal
	Timestamp time.Time
}

// Block links one transaction record into the chain.
type Block struct {
	// Height is the block's 1-based position in append order.
	Height        uint64
	ID            string
	TransactionID string
	PrevID        string
	Timestamp     time.Time
}

// Store exposes the append-only chain. Append is serialized by the
// implementation; Blocks returns a snapshot no concurrent append can move.
type Store interface {
	Append(ctx context.Context, transactionID string) (Block, error)
	Latest(ctx context.Context) (Block, bool, error)
	Blocks(ctx context.Context) ([]Block, error)
	Transaction(ctx context.Context, id string) (Transaction, error)
	Transactions(ctx context.Context) ([]Transaction, error)
	// Unchained lists transaction records that have no block, oldest first.
	Unchained(ctx context.Context) ([]Transaction, error)
}
