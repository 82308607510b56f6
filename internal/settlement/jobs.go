package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ton-giveaways/backend/internal/config"
	"github.com/ton-giveaways/backend/internal/events"
	"github.com/ton-giveaways/backend/internal/metrics"
	"go.uber.org/zap"
)

// Job names, shared by the worker scheduler, the CLI and the job metrics.
const (
	JobReconcile = "reconcile"
	JobDraw      = "draw"
	JobPayout    = "payout"
)

var ErrPayoutsDisabled = errors.New("payouts are disabled: operator wallet cannot sign")

// Jobs addresses the three jobs by name. Payouts is nil for a watch-only
// operator wallet.
type Jobs struct {
	Reconciler *Reconciler
	Drawer     *LotteryDrawer
	Payouts    *PayoutDispatcher
}

// NewJobs builds the jobs from configuration. A nil sender disables payouts.
func NewJobs(cfg *config.Config, store Store, chain ChainReader, sender Sender, publisher events.Publisher, m *metrics.Settlement, log *zap.Logger) *Jobs {
	j := &Jobs{
		Reconciler: NewReconciler(store, chain, publisher, m, ReconcilerOptions{
			PageSize:      cfg.PageSize,
			HistoryCutoff: cfg.HistoryCutoff,
		}, log),
		Drawer: NewLotteryDrawer(store, publisher, m, log),
	}
	if sender != nil {
		j.Payouts = NewPayoutDispatcher(store, sender, publisher, m, PayoutOptions{
			BatchSize: cfg.PayoutBatchSize,
			Comment:   cfg.GiveawayLink,
			SeqnoWait: cfg.PayoutSeqnoWait,
		}, log)
	}
	return j
}

func (j *Jobs) Run(ctx context.Context, name string) error {
	switch name {
	case JobReconcile:
		return j.Reconciler.Reconcile(ctx)
	case JobDraw:
		return j.Drawer.DrawLotteries(ctx)
	case JobPayout:
		if j.Payouts == nil {
			return ErrPayoutsDisabled
		}
		return j.Payouts.DisbursePending(ctx)
	}
	return fmt.Errorf("unknown job %q", name)
}
