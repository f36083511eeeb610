package store

import "github.com/congo-pay/upi_settle/internal/ledger"

// TamperBlock is a test helper that rewrites a committed block in place,
// simulating an out-of-band edit to the ledger table.
func TamperBlock(m *Memory, height uint64, fn func(*ledger.Block)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.blocks {
		if m.blocks[i].Height == height {
			fn(&m.blocks[i])
			return true
		}
	}
	return false
}
