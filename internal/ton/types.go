package ton

import (
	"math/big"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Transaction is the part of an account transaction the settlement jobs look at.
type Transaction struct {
	Hash   []byte
	LT     uint64
	PrevLT uint64
	Prev   []byte
	Now    time.Time
	In     *InboundMessage
}

// InboundMessage is the message that triggered a transaction. External
// messages (the operator's own outgoing batches) have Internal == false.
type InboundMessage struct {
	Internal bool
	Bounced  bool
	Src      *address.Address
	Dst      *address.Address
	Amount   *big.Int
	Body     *cell.Cell
}

// Cursor addresses one transaction in an account chain.
type Cursor struct {
	LT   uint64
	Hash []byte
}

// Next returns the cursor of the transaction preceding the oldest one in a
// newest-first page, or nil when the page reached the start of history.
func Next(page []Transaction) *Cursor {
	if len(page) == 0 {
		return nil
	}
	oldest := page[len(page)-1]
	if oldest.PrevLT == 0 {
		return nil
	}
	return &Cursor{LT: oldest.PrevLT, Hash: oldest.Prev}
}

// Payout is one outgoing transfer. Jetton is the jetton master for token
// payouts and nil for native coin.
type Payout struct {
	To      *address.Address
	Amount  *big.Int
	Jetton  *address.Address
	Comment string
}

func fromTLB(tx *tlb.Transaction) Transaction {
	out := Transaction{
		Hash:   tx.Hash,
		LT:     tx.LT,
		PrevLT: tx.PrevTxLT,
		Prev:   tx.PrevTxHash,
		Now:    time.Unix(int64(tx.Now), 0).UTC(),
	}

	if tx.IO.In == nil {
		return out
	}
	in := &InboundMessage{}
	if msg, ok := tx.IO.In.Msg.(*tlb.InternalMessage); ok && msg != nil {
		in.Internal = true
		in.Bounced = msg.Bounced
		in.Src = msg.SrcAddr
		in.Dst = msg.DstAddr
		in.Amount = msg.Amount.Nano()
		in.Body = msg.Body
	}
	out.In = in
	return out
}
