package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ton-giveaways/backend/internal/events"
	"github.com/ton-giveaways/backend/internal/metrics"
	"github.com/ton-giveaways/backend/internal/models"
	"go.uber.org/zap"
)

// LotteryDrawer picks winners for lottery giveaways whose end time has passed.
type LotteryDrawer struct {
	store     Store
	publisher events.Publisher
	metrics   *metrics.Settlement
	log       *zap.Logger

	now     func() time.Time
	shuffle func([]models.Participant) error
}

func NewLotteryDrawer(store Store, publisher events.Publisher, m *metrics.Settlement, log *zap.Logger) *LotteryDrawer {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &LotteryDrawer{
		store:     store,
		publisher: publisher,
		metrics:   m,
		log:       log.With(zap.String("job", JobDraw)),
		now:       time.Now,
		shuffle:   shuffle[models.Participant],
	}
}

type drawResult struct {
	giveawayID string
	winners    int
	losers     int
}

// DrawLotteries draws every ended active lottery, one transaction per giveaway,
// until none is left.
func (d *LotteryDrawer) DrawLotteries(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { d.metrics.ObserveJob(JobDraw, time.Since(start).Seconds(), err) }()

	for {
		res, err := d.drawNext(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}

		d.metrics.LotteryDrawn()
		d.log.Info("lottery drawn",
			zap.String("giveaway_id", res.giveawayID),
			zap.Int("winners", res.winners),
			zap.Int("lost", res.losers),
		)
		d.publish(ctx, events.Event{
			Type:       events.EventLotteryDrawn,
			GiveawayID: res.giveawayID,
			Payload:    map[string]any{"winners": res.winners, "lost": res.losers},
		})
		d.publish(ctx, events.Event{Type: events.EventGiveawayFinished, GiveawayID: res.giveawayID})
	}
}

func (d *LotteryDrawer) drawNext(ctx context.Context) (*drawResult, error) {
	var res *drawResult

	err := d.store.InTx(ctx, func(tx Tx) error {
		res = nil

		g, err := tx.NextEndedLottery(ctx, d.now())
		if err != nil {
			return fmt.Errorf("next ended lottery: %w", err)
		}
		if g == nil {
			return nil
		}

		eligible, err := tx.ParticipantsForUpdate(ctx, g.ID, models.ParticipantStatusAwaitingLottery)
		if err != nil {
			return fmt.Errorf("lock participants of %s: %w", g.ID, err)
		}

		winners, losers, err := d.pick(eligible, g.ReceiverCount)
		if err != nil {
			return err
		}

		if len(winners) > 0 {
			if _, err := tx.SetParticipantsStatus(ctx, ids(winners), models.ParticipantStatusAwaitingLottery, models.ParticipantStatusAwaitingPayment); err != nil {
				return fmt.Errorf("mark winners of %s: %w", g.ID, err)
			}
		}
		if len(losers) > 0 {
			if _, err := tx.SetParticipantsStatus(ctx, ids(losers), models.ParticipantStatusAwaitingLottery, models.ParticipantStatusLost); err != nil {
				return fmt.Errorf("mark losers of %s: %w", g.ID, err)
			}
		}

		ok, err := tx.SetGiveawayStatus(ctx, g.ID, models.GiveawayStatusActive, models.GiveawayStatusFinished)
		if err != nil {
			return fmt.Errorf("finish %s: %w", g.ID, err)
		}
		if !ok {
			return fmt.Errorf("giveaway %s left the active status while locked", g.ID)
		}

		res = &drawResult{giveawayID: g.ID, winners: len(winners), losers: len(losers)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// pick shuffles the eligible participants and splits off the first
// min(receiverCount, len(eligible)) as winners.
func (d *LotteryDrawer) pick(eligible []models.Participant, receiverCount int) (winners, losers []models.Participant, err error) {
	if len(eligible) == 0 {
		return nil, nil, nil
	}

	pool := make([]models.Participant, len(eligible))
	copy(pool, eligible)
	if err := d.shuffle(pool); err != nil {
		return nil, nil, err
	}

	n := min(receiverCount, len(pool))
	return pool[:n], pool[n:], nil
}

func (d *LotteryDrawer) publish(ctx context.Context, e events.Event) {
	if err := d.publisher.Publish(ctx, events.ChannelGiveaways, e); err != nil {
		d.log.Warn("failed to publish event", zap.String("type", e.Type), zap.Error(err))
	}
}

func ids(ps []models.Participant) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
