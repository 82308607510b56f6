package models

import "bytes"

// Checkpoint keys
const (
	CheckpointKeyHash = "latest_processed_tx_hash"
	CheckpointKeyLT   = "latest_processed_tx_lt"
)

// Checkpoint is the reconciler cursor over the operator wallet history.
// Zero value means nothing has been processed yet.
type Checkpoint struct {
	Hash []byte
	LT   uint64
}

func (c Checkpoint) IsZero() bool {
	return c.LT == 0 && len(c.Hash) == 0
}

// Accepts reports whether next may follow the stored checkpoint:
// it must be strictly later in the account chain.
func (c Checkpoint) Accepts(next Checkpoint) bool {
	if c.IsZero() {
		return true
	}
	return next.LT > c.LT
}

// Covers reports whether a transaction at (lt, hash) was already processed.
func (c Checkpoint) Covers(lt uint64, hash []byte) bool {
	if c.IsZero() {
		return false
	}
	return bytes.Equal(c.Hash, hash) || lt <= c.LT
}
