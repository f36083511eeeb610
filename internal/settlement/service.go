package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/logging"
	"github.com/congo-pay/upi_settle/internal/notification"
)

const defaultIDAttempts = 5

var (
	// ErrInvalidAmount indicates a non-positive amount or one with more than two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most two decimal places")
	// ErrSamePayerPayee indicates an account tried to pay itself.
	ErrSamePayerPayee = errors.New("payer and payee must differ")
	// ErrInsufficientFunds indicates the payer's balance does not cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLedgerHalted indicates settlements are stopped after a failed integrity check.
	ErrLedgerHalted = errors.New("ledger halted after failed integrity check")
)

// PayerResolver authenticates a payer from its MMID and PIN.
type PayerResolver interface {
	Resolve(ctx context.Context, mmid, pin string) (account.Account, error)
}

// AccountGetter looks up accounts by primary id.
type AccountGetter interface {
	GetKind(ctx context.Context, id string, kind account.Kind) (account.Account, error)
}

// HaltChecker reports whether settlements must be refused.
type HaltChecker interface {
	Halted() bool
}

// Options carries the optional collaborators of a Service.
type Options struct {
	IDs      *ids.Generator
	Notifier notification.Notifier
	Logger   *slog.Logger
	Halt     HaltChecker
	// IDAttempts bounds the transaction id collision retry.
	IDAttempts int
}

// Service runs the settlement pipeline.
type Service struct {
	uow      UnitOfWork
	accounts AccountGetter
	resolver PayerResolver
	ids      *ids.Generator
	notifier notification.Notifier
	logger   *slog.Logger
	halt     HaltChecker
	attempts int
}

// NewService constructs a settlement service.
func NewService(uow UnitOfWork, accounts AccountGetter, resolver PayerResolver, opts Options) *Service {
	s := &Service{
		uow:      uow,
		accounts: accounts,
		resolver: resolver,
		ids:      opts.IDs,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		halt:     opts.Halt,
		attempts: opts.IDAttempts,
	}
	if s.ids == nil {
		s.ids = ids.New(nil)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.attempts <= 0 {
		s.attempts = defaultIDAttempts
	}
	return s
}

// Request captures one point-of-sale payment.
type Request struct {
	MMID    string
	PIN     string
	PayeeID string
	Amount  decimal.Decimal
}

// Result describes a committed settlement.
type Result struct {
	TransactionID string
	BlockID       string
	PrevBlockID   string
	BlockHeight   uint64
	PayerID       string
	PayeeID       string
	Amount        decimal.Decimal
	PayerBalance  decimal.Decimal
	PayeeBalance  decimal.Decimal
	SettledAt     time.Time
}

// Settle authenticates the payer, moves the funds and chains the
// transaction record. Balances, record and block commit together or not at
// all.
func (s *Service) Settle(ctx context.Context, req Request) (Result, error) {
	if s.halt != nil && s.halt.Halted() {
		return Result{}, ErrLedgerHalted
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(2)) {
		return Result{}, ErrInvalidAmount
	}

	payer, err := s.resolver.Resolve(ctx, req.MMID, req.PIN)
	if err != nil {
		return Result{}, err
	}
	if payer.ID == req.PayeeID {
		return Result{}, ErrSamePayerPayee
	}
	payee, err := s.accounts.GetKind(ctx, req.PayeeID, account.KindMerchant)
	if err != nil {
		return Result{}, fmt.Errorf("payee: %w", err)
	}
	if payer.Balance.LessThan(req.Amount) {
		return Result{}, ErrInsufficientFunds
	}

	var res Result
	err = s.uow.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockAccounts(ctx, payer.ID, payee.ID)
		if err != nil {
			return err
		}
		from, to := locked[payer.ID], locked[payee.ID]
		// Balances may have moved since resolution.
		if from.Balance.LessThan(req.Amount) {
			return ErrInsufficientFunds
		}

		fromBalance := from.Balance.Sub(req.Amount)
		toBalance := to.Balance.Add(req.Amount)
		if err := tx.SetBalance(ctx, from.ID, fromBalance); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to.ID, toBalance); err != nil {
			return err
		}

		txID, at, err := s.transactionID(ctx, tx, from.ID, to.ID, req.Amount)
		if err != nil {
			return err
		}
		rec := ledger.Transaction{ID: txID, PayerID: from.ID, PayeeID: to.ID, Amount: req.Amount, Timestamp: at}
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}
		block, err := tx.AppendBlock(ctx, txID, at)
		if err != nil {
			return fmt.Errorf("append block: %w", err)
		}

		res = Result{
			TransactionID: txID,
			BlockID:       block.ID,
			PrevBlockID:   block.PrevID,
			BlockHeight:   block.Height,
			PayerID:       from.ID,
			PayeeID:       to.ID,
			Amount:        req.Amount,
			PayerBalance:  fromBalance,
			PayeeBalance:  toBalance,
			SettledAt:     at,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("settlement committed",
		slog.String("transaction_id", res.TransactionID),
		slog.String("block_id", res.BlockID),
		slog.String("payer_id", res.PayerID),
		slog.String("payee_id", res.PayeeID),
		slog.String("amount", res.Amount.StringFixed(2)),
	)
	s.publish(ctx, res)
	return res, nil
}

// transactionID derives an unused transaction id, moving the timestamp
// forward on every collision.
func (s *Service) transactionID(ctx context.Context, tx Tx, payerID, payeeID string, amount decimal.Decimal) (string, time.Time, error) {
	var at time.Time
	next := func(attempt int) string {
		now := s.ids.Now()
		if attempt > 0 && !now.After(at) {
			now = at.Add(time.Microsecond)
		}
		at = now
		return ids.TransactionID(payerID, payeeID, amount, at)
	}
	taken := func(id string) (bool, error) {
		return tx.TransactionExists(ctx, id)
	}

	id, err := ids.Unique(s.attempts, next, taken)
	if err != nil {
		if errors.Is(err, ids.ErrCollision) {
			s.logger.Error("transaction id collisions exhausted",
				slog.String("payer_id", payerID),
				slog.String("payee_id", payeeID),
				slog.Int("attempts", s.attempts),
			)
		}
		return "", time.Time{}, err
	}
	return id, at, nil
}

func (s *Service) publish(ctx context.Context, res Result) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notification.Event{
		Kind:          notification.KindSettlementCompleted,
		TransactionID: res.TransactionID,
		BlockID:       res.BlockID,
		PayerID:       res.PayerID,
		PayeeID:       res.PayeeID,
		Amount:        res.Amount,
		OccurredAt:    res.SettledAt,
	})
	if err != nil {
		s.logger.Warn("settlement event not delivered",
			slog.String("transaction_id", res.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}
