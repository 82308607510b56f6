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

var drawNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func lotteryGiveaway(id string, receivers int, endsAt time.Time) models.Giveaway {
	return models.Giveaway{
		ID:            id,
		Type:          models.GiveawayTypeLottery,
		Status:        models.GiveawayStatusActive,
		EndsAt:        &endsAt,
		Amount:        big.NewInt(10),
		ReceiverCount: receivers,
	}
}

func newTestDrawer(store *memStore) *LotteryDrawer {
	d := NewLotteryDrawer(store, nil, nil, zap.NewNop())
	d.now = func() time.Time { return drawNow }
	return d
}

func addEntrants(store *memStore, giveawayID string, n int, status string) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = store.addParticipant(giveawayID, raw(addr(byte(len(giveawayID)*16+i+1))), status)
	}
	return ids
}

func TestDrawLotteries(t *testing.T) {
	tests := []struct {
		name      string
		receivers int
		eligible  int
		winners   int
		lost      int
	}{
		{"more entrants than prizes", 3, 5, 3, 2},
		{"fewer entrants than prizes", 3, 2, 2, 0},
		{"exact", 2, 2, 2, 0},
		{"nobody checked in", 3, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.addGiveaway(lotteryGiveaway("lot", tt.receivers, drawNow.Add(-time.Minute)))
			addEntrants(store, "lot", tt.eligible, models.ParticipantStatusAwaitingLottery)

			require.NoError(t, newTestDrawer(store).DrawLotteries(context.Background()))

			counts := store.countByStatus("lot")
			assert.Equal(t, tt.winners, counts[models.ParticipantStatusAwaitingPayment])
			assert.Equal(t, tt.lost, counts[models.ParticipantStatusLost])
			assert.Zero(t, counts[models.ParticipantStatusAwaitingLottery])
			assert.Equal(t, models.GiveawayStatusFinished, store.giveaway("lot").Status)
		})
	}
}

func TestDrawLotteries_LeavesOthersAlone(t *testing.T) {
	store := newMemStore()
	store.addGiveaway(lotteryGiveaway("future", 1, drawNow.Add(time.Hour)))
	pendingLottery := lotteryGiveaway("unfunded", 1, drawNow.Add(-time.Hour))
	pendingLottery.Status = models.GiveawayStatusPending
	store.addGiveaway(pendingLottery)

	instant := instantGiveaway("instant", 1, 1)
	instant.Status = models.GiveawayStatusActive
	store.addGiveaway(instant)

	store.addGiveaway(lotteryGiveaway("due", 1, drawNow.Add(-time.Hour)))
	addEntrants(store, "due", 2, models.ParticipantStatusAwaitingLottery)
	task := addEntrants(store, "due", 1, models.ParticipantStatusAwaitingTask)
	future := addEntrants(store, "future", 2, models.ParticipantStatusAwaitingLottery)

	require.NoError(t, newTestDrawer(store).DrawLotteries(context.Background()))

	assert.Equal(t, models.GiveawayStatusFinished, store.giveaway("due").Status)
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("future").Status)
	assert.Equal(t, models.GiveawayStatusPending, store.giveaway("unfunded").Status)
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("instant").Status)

	assert.Equal(t, models.ParticipantStatusAwaitingTask, store.participant(task[0]).Status)
	for _, id := range future {
		assert.Equal(t, models.ParticipantStatusAwaitingLottery, store.participant(id).Status)
	}
}

func TestDrawLotteries_DrainsBacklog(t *testing.T) {
	store := newMemStore()
	for i, id := range []string{"a", "b", "c"} {
		store.addGiveaway(lotteryGiveaway(id, 1, drawNow.Add(-time.Duration(i+1)*time.Hour)))
		addEntrants(store, id, 3, models.ParticipantStatusAwaitingLottery)
	}

	require.NoError(t, newTestDrawer(store).DrawLotteries(context.Background()))

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, models.GiveawayStatusFinished, store.giveaway(id).Status)
		counts := store.countByStatus(id)
		assert.Equal(t, 1, counts[models.ParticipantStatusAwaitingPayment])
		assert.Equal(t, 2, counts[models.ParticipantStatusLost])
	}
}

func TestDrawLotteries_FailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.addGiveaway(lotteryGiveaway("lot", 1, drawNow.Add(-time.Minute)))
	ids := addEntrants(store, "lot", 3, models.ParticipantStatusAwaitingLottery)

	d := newTestDrawer(store)
	d.shuffle = func([]models.Participant) error { return errors.New("entropy exhausted") }

	require.Error(t, d.DrawLotteries(context.Background()))
	assert.Equal(t, models.GiveawayStatusActive, store.giveaway("lot").Status)
	for _, id := range ids {
		assert.Equal(t, models.ParticipantStatusAwaitingLottery, store.participant(id).Status)
	}
}

func TestShuffleKeepsElements(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := append([]int(nil), in...)
	require.NoError(t, shuffle(out))
	assert.ElementsMatch(t, in, out)
}

func TestShuffleReachesEveryPosition(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 200 && len(seen) < 4; i++ {
		s := []int{0, 1, 2, 3}
		require.NoError(t, shuffle(s))
		seen[s[0]] = true
	}
	assert.Len(t, seen, 4, "every element should eventually be drawn first")
}
