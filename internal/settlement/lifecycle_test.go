package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ton-giveaways/backend/internal/models"
	"go.uber.org/zap"
)

var participantRank = map[string]int{
	models.ParticipantStatusAwaitingTask:    0,
	models.ParticipantStatusAwaitingLottery: 1,
	models.ParticipantStatusAwaitingPayment: 1,
	models.ParticipantStatusPaid:            2,
	models.ParticipantStatusLost:            2,
}

func TestLifecycle_StatusesNeverRegress(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ledger := newFakeLedger()

	endsAt := drawNow.Add(-time.Minute)
	store.addGiveaway(models.Giveaway{
		ID: "lot", Type: models.GiveawayTypeLottery, EndsAt: &endsAt,
		Amount: big.NewInt(100), ReceiverCount: 2,
	})
	store.addGiveaway(instantGiveaway("inst", 50, 2))

	ledger.deposit(addr(1), "lot", 200)
	ledger.deposit(addr(2), "inst", 60)
	ledger.deposit(addr(3), "inst", 40)

	reconciler := NewReconciler(store, ledger, nil, nil, ReconcilerOptions{PageSize: 2}, zap.NewNop())
	drawer := newTestDrawer(store)
	dispatcher := newTestDispatcher(store, ledger, 4)

	require.NoError(t, reconciler.Reconcile(ctx))
	require.Equal(t, models.GiveawayStatusActive, store.giveaway("lot").Status)
	require.Equal(t, models.GiveawayStatusActive, store.giveaway("inst").Status)

	addEntrants(store, "lot", 4, models.ParticipantStatusAwaitingLottery)
	addEntrants(store, "inst", 2, models.ParticipantStatusAwaitingPayment)

	// run every job twice; the second round must be a no-op
	for i := 0; i < 2; i++ {
		require.NoError(t, reconciler.Reconcile(ctx))
		require.NoError(t, drawer.DrawLotteries(ctx))
		require.NoError(t, dispatcher.DisbursePending(ctx))
	}

	assert.Equal(t, models.GiveawayStatusFinished, store.giveaway("lot").Status)
	assert.Equal(t, models.GiveawayStatusFinished, store.giveaway("inst").Status)
	assert.Equal(t, 2, store.countByStatus("lot")[models.ParticipantStatusPaid])
	assert.Equal(t, 2, store.countByStatus("lot")[models.ParticipantStatusLost])
	assert.Equal(t, 2, store.countByStatus("inst")[models.ParticipantStatusPaid])
	assert.Len(t, ledger.transfers, 1, "all four winners fit one transfer")

	for id, history := range store.state.giveawayHistory {
		for i := 1; i < len(history); i++ {
			assert.True(t, models.IsValidGiveawayTransition(history[i-1], history[i]), "giveaway %s: %v", id, history)
		}
	}
	for id, history := range store.state.participantHistory {
		for i := 1; i < len(history); i++ {
			assert.Greater(t, participantRank[history[i]], participantRank[history[i-1]], "participant %d: %v", id, history)
		}
	}
}

func TestJobs_Run(t *testing.T) {
	jobs := &Jobs{}
	if err := jobs.Run(context.Background(), JobPayout); !errors.Is(err, ErrPayoutsDisabled) {
		t.Errorf("payout without sender: got %v, want ErrPayoutsDisabled", err)
	}
	if err := jobs.Run(context.Background(), "compact"); err == nil {
		t.Errorf("unknown job accepted")
	}
}
