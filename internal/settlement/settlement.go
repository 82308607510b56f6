// Package settlement holds the three background jobs that move giveaways
// through their lifecycle: chain reconciliation, lottery draws and payouts.
//
// Every job is a method on a struct with injected dependencies and is safe to
// run concurrently with other invocations of itself. Coordination happens in
// the store through row locks and the checkpoint comparison.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ton-giveaways/backend/internal/models"
	"github.com/ton-giveaways/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
)

// ErrCheckpointConflict is returned by Tx.AdvanceCheckpoint when the stored
// checkpoint is already at or past the proposed one.
var ErrCheckpointConflict = errors.New("checkpoint already advanced by another run")

// Store opens short transactions against the settlement state.
type Store interface {
	LoadCheckpoint(ctx context.Context) (models.Checkpoint, error)
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations the jobs perform inside a transaction.
// Lookups that find nothing return nil without an error.
type Tx interface {
	LedgerTransactionExists(ctx context.Context, hash []byte) (bool, error)
	AdvanceCheckpoint(ctx context.Context, cp models.Checkpoint) error
	InsertLedgerTransaction(ctx context.Context, t *models.LedgerTransaction) (bool, error)
	SumLedgerTransactions(ctx context.Context, giveawayID string) (*big.Int, error)

	GiveawayForUpdate(ctx context.Context, id string) (*models.Giveaway, error)
	GiveawaysByID(ctx context.Context, ids []string) (map[string]*models.Giveaway, error)
	// SetGiveawayStatus moves a giveaway from one status to another and
	// reports false when the row was not in the from status.
	SetGiveawayStatus(ctx context.Context, id, from, to string) (bool, error)
	// NextEndedLottery locks the oldest active lottery that has ended,
	// skipping rows locked by concurrent draws.
	NextEndedLottery(ctx context.Context, now time.Time) (*models.Giveaway, error)

	ParticipantsForUpdate(ctx context.Context, giveawayID, status string) ([]models.Participant, error)
	SetParticipantsStatus(ctx context.Context, ids []int64, from, to string) (int64, error)
	// ClaimAwaitingPayment locks up to limit awaitingPayment participants
	// not locked by anyone else, excluding the given ids.
	ClaimAwaitingPayment(ctx context.Context, limit int, exclude []int64) ([]models.Participant, error)
	CountSettledParticipants(ctx context.Context, giveawayID string) (int, error)
}

// ChainReader is the read side of the ledger used by the reconciler.
type ChainReader interface {
	Address() *address.Address
	Balance(ctx context.Context) (*big.Int, error)
	ListTransactions(ctx context.Context, cursor *ton.Cursor, limit uint32) ([]ton.Transaction, error)
	JettonMaster(ctx context.Context, jettonWallet *address.Address) (*address.Address, error)
}

// Sender submits outgoing transfers from the operator wallet.
type Sender interface {
	Seqno(ctx context.Context) (uint64, error)
	Transfer(ctx context.Context, seqno uint64, payouts []ton.Payout) error
}
