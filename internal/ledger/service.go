package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Service runs integrity checks over a Store and applies the tamper policy.
type Service struct {
	store        Store
	logger       *slog.Logger
	haltOnTamper bool
	halted       atomic.Bool
}

// NewService builds a ledger service. When haltOnTamper is set, the first
// failed verification marks the ledger halted for the life of the process.
func NewService(store Store, logger *slog.Logger, haltOnTamper bool) *Service {
	return &Service{store: store, logger: logger, haltOnTamper: haltOnTamper}
}

// Verify checks the whole chain against a consistent snapshot.
func (s *Service) Verify(ctx context.Context) (Result, error) {
	blocks, err := s.store.Blocks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load blocks: %w", err)
	}
	res := Verify(blocks)
	if res.Valid {
		s.logger.Info("ledger verified", slog.Int("examined", res.Examined))
		return res, nil
	}

	s.logger.Error("ledger tampering detected",
		slog.Int("position", res.Position),
		slog.String("block_id", res.BlockID),
		slog.String("reason", res.Reason),
		slog.Bool("halting", s.haltOnTamper),
	)
	if s.haltOnTamper {
		s.halted.Store(true)
	}
	return res, nil
}

// Halted reports whether a failed verification has stopped new settlements.
func (s *Service) Halted() bool {
	return s.halted.Load()
}

// Blocks returns the chain in append order.
func (s *Service) Blocks(ctx context.Context) ([]Block, error) {
	return s.store.Blocks(ctx)
}

// Transactions returns every transaction record.
func (s *Service) Transactions(ctx context.Context) ([]Transaction, error) {
	return s.store.Transactions(ctx)
}

// Transaction fetches a single transaction record.
func (s *Service) Transaction(ctx context.Context, id string) (Transaction, error) {
	return s.store.Transaction(ctx, id)
}

// Reconcile chains every transaction record that has no block yet, oldest
// first, and returns the blocks it appended.
func (s *Service) Reconcile(ctx context.Context) ([]Block, error) {
	orphans, err := s.store.Unchained(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unchained transactions: %w", err)
	}

	appended := make([]Block, 0, len(orphans))
	for _, rec := range orphans {
		b, err := s.store.Append(ctx, rec.ID)
		if errors.Is(err, ErrAlreadyChained) {
			continue
		}
		if err != nil {
			return appended, fmt.Errorf("append %s: %w", rec.ID, err)
		}
		s.logger.Warn("reconciled unchained transaction",
			slog.String("transaction_id", rec.ID),
			slog.String("block_id", b.ID),
		)
		appended = append(appended, b)
	}
	return appended, nil
}
