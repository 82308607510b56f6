package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ton-giveaways/backend/internal/models"
	"github.com/ton-giveaways/backend/internal/ton"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

func newTestReconciler(store *memStore, ledger *fakeLedger, opts ReconcilerOptions) *Reconciler {
	if opts.PageSize == 0 {
		opts.PageSize = 2
	}
	return NewReconciler(store, ledger, nil, nil, opts, zap.NewNop())
}

func instantGiveaway(id string, amount int64, receivers int) models.Giveaway {
	return models.Giveaway{
		ID:            id,
		Type:          models.GiveawayTypeInstant,
		Amount:        big.NewInt(amount),
		ReceiverCount: receivers,
	}
}

func TestReconcile_FundingThreshold(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 100, 3))
	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	ledger.deposit(addr(1), "gw1", 200)
	ledger.deposit(addr(2), "gw1", 99)
	require.NoError(t, r.Reconcile(ctx))
	assert.Equal(t, models.GiveawayStatusPending, store.giveaway("gw1").Status, "299 of 300 must stay pending")

	ledger.deposit(addr(3), "gw1", 1)
	require.NoError(t, r.Reconcile(ctx))
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("gw1").Status)

	rows := store.ledgerRows()
	require.Len(t, rows, 3)
	assert.Equal(t, raw(addr(3)), rows[2].FromAddress)
	assert.Equal(t, raw(ledger.operator), rows[2].ToAddress)
	assert.Nil(t, rows[2].TokenAddress)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 10, 1))
	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	for i := 0; i < 5; i++ {
		ledger.deposit(addr(byte(i+1)), "gw1", 3)
	}

	require.NoError(t, r.Reconcile(ctx))
	rows := store.ledgerRows()
	cp := store.checkpoint()
	commits := store.commits

	require.NoError(t, r.Reconcile(ctx))
	assert.Equal(t, rows, store.ledgerRows())
	assert.Equal(t, cp, store.checkpoint())
	assert.Equal(t, commits, store.commits, "second pass must not write")
}

func TestReconcile_UnknownMemoIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gwA", 100, 1))
	store.addGiveaway(instantGiveaway("gwC", 100, 1))
	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	a := ledger.deposit(addr(1), "gwA", 100)
	b := ledger.deposit(addr(2), "nope", 100)
	c := ledger.deposit(addr(3), "gwC", 100)

	require.NoError(t, r.Reconcile(ctx))

	assert.Equal(t, models.Checkpoint{Hash: c.Hash, LT: c.LT}, store.checkpoint())
	rows := store.ledgerRows()
	require.Len(t, rows, 2)
	assert.Equal(t, a.Hash, rows[0].Hash)
	assert.Equal(t, c.Hash, rows[1].Hash)
	for _, row := range rows {
		assert.NotEqual(t, b.Hash, row.Hash)
	}
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("gwA").Status)
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("gwC").Status)
}

func TestReconcile_NonDepositsOnlyAdvanceCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 100, 1))
	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	ledger.push(&ton.InboundMessage{Internal: true, Bounced: true, Src: addr(1), Dst: ledger.operator, Amount: big.NewInt(100), Body: commentBody("gw1")})
	ledger.push(&ton.InboundMessage{Internal: true, Src: addr(1), Dst: ledger.operator, Amount: big.NewInt(100), Body: commentBody("")})
	ledger.push(&ton.InboundMessage{Internal: true, Src: addr(1), Dst: ledger.operator, Amount: big.NewInt(100)})
	ledger.push(&ton.InboundMessage{}) // external, the operator's own payout
	ledger.push(nil)
	ledger.push(&ton.InboundMessage{Internal: true, Src: addr(1), Dst: addr(2), Amount: big.NewInt(100), Body: commentBody("gw1")})
	// unknown jetton wallet, then a mint
	ledger.jettonDeposit(addr(0x10), addr(1), "gw1", 100)
	last := ledger.jettonDeposit(addr(0x11), nil, "gw1", 100)

	require.NoError(t, r.Reconcile(ctx))

	assert.Empty(t, store.ledgerRows())
	assert.Equal(t, last.LT, store.checkpoint().LT)
	assert.Equal(t, models.GiveawayStatusPending, store.giveaway("gw1").Status)
}

func TestReconcile_UnreadableMemoOnlyAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 100, 1))
	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	bodies := []*cell.Cell{
		cell.BeginCell().MustStoreUInt(0, 32).MustStoreSlice([]byte{0xff, 0xfe, 'x'}, 24).EndCell(),
		commentBody("gw1\x00"),
	}
	var bad ton.Transaction
	for _, body := range bodies {
		bad = ledger.push(&ton.InboundMessage{Internal: true, Src: addr(1), Dst: ledger.operator, Amount: big.NewInt(100), Body: body})
	}

	require.NoError(t, r.Reconcile(ctx))
	assert.Empty(t, store.ledgerRows())
	assert.Equal(t, models.Checkpoint{Hash: bad.Hash, LT: bad.LT}, store.checkpoint())

	good := ledger.deposit(addr(2), "gw1", 100)
	require.NoError(t, r.Reconcile(ctx))
	rows := store.ledgerRows()
	require.Len(t, rows, 1)
	assert.Equal(t, good.Hash, rows[0].Hash)
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("gw1").Status)
}

func TestReconcile_JettonDeposits(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()

	master := addr(0x20)
	otherMaster := addr(0x21)
	wallet := addr(0x30)
	otherWallet := addr(0x31)
	ledger.jettonMasters[wallet.StringRaw()] = master
	ledger.jettonMasters[otherWallet.StringRaw()] = otherMaster

	jettonGw := instantGiveaway("jet", 500, 2)
	jettonGw.TokenAddress = raw(master)
	store.addGiveaway(jettonGw)
	store.addGiveaway(instantGiveaway("native", 1, 1))

	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	// wrong token, TON for a jetton giveaway, jetton for a TON giveaway
	ledger.jettonDeposit(otherWallet, addr(1), "jet", 1000)
	ledger.deposit(addr(1), "jet", 1000)
	ledger.jettonDeposit(wallet, addr(1), "native", 1000)
	ok := ledger.jettonDeposit(wallet, addr(7), "jet", 1000)

	require.NoError(t, r.Reconcile(ctx))

	rows := store.ledgerRows()
	require.Len(t, rows, 1)
	assert.Equal(t, ok.Hash, rows[0].Hash)
	assert.Equal(t, raw(addr(7)), rows[0].FromAddress, "sender comes from the notification")
	assert.Equal(t, raw(master), rows[0].TokenAddress)
	assert.Equal(t, "1000", rows[0].Amount.String())

	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("jet").Status)
	assert.Equal(t, models.GiveawayStatusPending, store.giveaway("native").Status)
}

func TestReconcile_StopsOnCheckpointConflict(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 100, 1))
	r := newTestReconciler(store, ledger, ReconcilerOptions{})

	ledger.deposit(addr(1), "gw1", 100)
	ledger.deposit(addr(2), "gw1", 100)

	// another run commits past both transactions before this one writes
	store.beforeTx = func(st *memState) {
		st.checkpoint = models.Checkpoint{Hash: []byte("elsewhere"), LT: 1_000_000}
	}

	require.NoError(t, r.Reconcile(ctx))
	assert.Empty(t, store.ledgerRows())
	assert.Equal(t, uint64(1_000_000), store.checkpoint().LT)
}

func TestReconcile_HistoryCutoff(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 100, 5))

	old := ledger.deposit(addr(1), "gw1", 100)
	recent := ledger.deposit(addr(2), "gw1", 100)

	r := newTestReconciler(store, ledger, ReconcilerOptions{HistoryCutoff: old.Now.Add(time.Second)})
	require.NoError(t, r.Reconcile(ctx))

	rows := store.ledgerRows()
	require.Len(t, rows, 1)
	assert.Equal(t, recent.Hash, rows[0].Hash)
}

func TestReconcile_PagesUntilCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 1, 100))
	r := newTestReconciler(store, ledger, ReconcilerOptions{PageSize: 2})

	for i := 0; i < 3; i++ {
		ledger.deposit(addr(1), "gw1", 1)
	}
	require.NoError(t, r.Reconcile(ctx))
	require.Len(t, store.ledgerRows(), 3)

	ledger.listCalls = 0
	ledger.deposit(addr(1), "gw1", 1)
	require.NoError(t, r.Reconcile(ctx))

	assert.Len(t, store.ledgerRows(), 4)
	assert.Equal(t, 1, ledger.listCalls, "walk must stop at the checkpoint on the first page")
}

func TestReconcile_LedgerErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()
	store.addGiveaway(instantGiveaway("gw1", 1, 1))
	ledger.deposit(addr(1), "gw1", 1)
	ledger.listErr = tonapi.LSError{Code: -503, Text: "unavailable"}

	r := newTestReconciler(store, ledger, ReconcilerOptions{})
	require.Error(t, r.Reconcile(ctx))
	assert.True(t, store.checkpoint().IsZero())
	assert.Empty(t, store.ledgerRows())
}
