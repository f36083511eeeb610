package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// HashBlock computes a block id from its transaction reference, the id of
// its predecessor and its own timestamp at microsecond resolution.
func HashBlock(transactionID, prevID string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(transactionID))
	h.Write([]byte(prevID))
	h.Write([]byte(strconv.FormatInt(ts.UnixMicro(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// NextBlock builds the block that follows prev (nil for an empty chain).
// Timestamps are forced strictly past the predecessor's so chain order and
// time order agree.
func NextBlock(prev *Block, transactionID string, now time.Time) Block {
	ts := now.UTC().Truncate(time.Microsecond)
	prevID := GenesisID
	var height uint64 = 1
	if prev != nil {
		prevID = prev.ID
		height = prev.Height + 1
		if !ts.After(prev.Timestamp) {
			ts = prev.Timestamp.Add(time.Microsecond)
		}
	}
	return Block{
		Height:        height,
		ID:            HashBlock(transactionID, prevID, ts),
		TransactionID: transactionID,
		PrevID:        prevID,
		Timestamp:     ts,
	}
}
