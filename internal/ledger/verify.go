package ledger

import "fmt"

// Result is the outcome of a chain verification. Position is 1-based and
// only set when Valid is false.
type Result struct {
	Valid    bool
	Examined int
	Position int
	BlockID  string
	Reason   string
}

// IntegrityError describes the first block at which the chain breaks.
type IntegrityError struct {
	Position int
	BlockID  string
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violated at block %d (%s): %s", e.Position, e.BlockID, e.Reason)
}

// Err returns nil for a valid result and an *IntegrityError otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{Position: r.Position, BlockID: r.BlockID, Reason: r.Reason}
}

// Verify walks blocks in append order and reports the first block whose
// stored fields disagree with the chain. The first block must point at
// GenesisID. The scan is read-only.
func Verify(blocks []Block) Result {
	prevID := GenesisID
	for i, b := range blocks {
		pos := i + 1
		invalid := func(reason string) Result {
			return Result{Examined: pos, Position: pos, BlockID: b.ID, Reason: reason}
		}

		if b.PrevID != prevID {
			return invalid(fmt.Sprintf("previous id %q does not match predecessor %q", b.PrevID, prevID))
		}
		if i > 0 && !b.Timestamp.After(blocks[i-1].Timestamp) {
			return invalid("timestamp does not follow predecessor")
		}
		if want := HashBlock(b.TransactionID, prevID, b.Timestamp); b.ID != want {
			return invalid(fmt.Sprintf("stored id does not match recomputed hash %s", want))
		}
		prevID = b.ID
	}
	return Result{Valid: true, Examined: len(blocks)}
}
