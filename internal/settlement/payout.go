package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ton-giveaways/backend/internal/events"
	"github.com/ton-giveaways/backend/internal/metrics"
	"github.com/ton-giveaways/backend/internal/models"
	"github.com/ton-giveaways/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

type PayoutOptions struct {
	// BatchSize is the number of participants paid by one wallet transfer.
	BatchSize int
	// Comment renders the memo attached to a payout for a giveaway id.
	Comment func(giveawayID string) string
	// SeqnoWait bounds how long a batch waits for the wallet seqno to move
	// past the one it was signed with before it is recorded as paid.
	SeqnoWait time.Duration
	SeqnoPoll time.Duration
}

var ErrSeqnoNotAdvanced = errors.New("wallet seqno did not advance after transfer")

// PayoutDispatcher pays participants in awaitingPayment, one locked batch and
// one wallet transfer at a time.
type PayoutDispatcher struct {
	store     Store
	sender    Sender
	publisher events.Publisher
	metrics   *metrics.Settlement
	opts      PayoutOptions
	log       *zap.Logger
}

func NewPayoutDispatcher(store Store, sender Sender, publisher events.Publisher, m *metrics.Settlement, opts PayoutOptions, log *zap.Logger) *PayoutDispatcher {
	if opts.BatchSize <= 0 || opts.BatchSize > ton.MaxMessagesPerTransfer {
		opts.BatchSize = ton.MaxMessagesPerTransfer
	}
	if opts.Comment == nil {
		opts.Comment = func(id string) string { return id }
	}
	if opts.SeqnoWait <= 0 {
		opts.SeqnoWait = time.Minute
	}
	if opts.SeqnoPoll <= 0 {
		opts.SeqnoPoll = 2 * time.Second
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &PayoutDispatcher{
		store:     store,
		sender:    sender,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		log:       log.With(zap.String("job", JobPayout)),
	}
}

type batchResult struct {
	claimed  int
	paid     []models.Participant
	skipped  []int64
	finished []string
}

// DisbursePending pays batches until no unlocked awaitingPayment participant
// is left. A failed transfer rolls its batch back and ends the run; the batch
// is picked up again by the next invocation.
func (p *PayoutDispatcher) DisbursePending(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { p.metrics.ObserveJob(JobPayout, time.Since(start).Seconds(), err) }()

	var skipped []int64
	for {
		res, err := p.disburseBatch(ctx, skipped)
		if err != nil {
			return err
		}
		if res.claimed == 0 {
			p.log.Debug("no (more) payouts to be done")
			return nil
		}

		skipped = append(skipped, res.skipped...)
		p.metrics.Payouts(metrics.PayoutSkipped, len(res.skipped))
		p.metrics.Payouts(metrics.PayoutPaid, len(res.paid))

		for _, pt := range res.paid {
			p.publish(ctx, events.Event{
				Type:       events.EventParticipantPaid,
				GiveawayID: pt.GiveawayID,
				Payload:    map[string]any{"participant_id": pt.ID},
			})
		}
		for _, id := range res.finished {
			p.log.Info("giveaway finished", zap.String("giveaway_id", id))
			p.publish(ctx, events.Event{Type: events.EventGiveawayFinished, GiveawayID: id})
		}
	}
}

func (p *PayoutDispatcher) disburseBatch(ctx context.Context, exclude []int64) (batchResult, error) {
	var res batchResult

	err := p.store.InTx(ctx, func(tx Tx) error {
		res = batchResult{}

		claimed, err := tx.ClaimAwaitingPayment(ctx, p.opts.BatchSize, exclude)
		if err != nil {
			return fmt.Errorf("claim participants: %w", err)
		}
		res.claimed = len(claimed)
		if len(claimed) == 0 {
			return nil
		}

		giveaways, err := tx.GiveawaysByID(ctx, giveawayIDs(claimed))
		if err != nil {
			return fmt.Errorf("load giveaways: %w", err)
		}

		var payouts []ton.Payout
		for _, pt := range claimed {
			payout, reason := p.payoutFor(pt, giveaways[pt.GiveawayID])
			if reason != "" {
				p.log.Warn("participant skipped",
					zap.Int64("participant_id", pt.ID),
					zap.String("giveaway_id", pt.GiveawayID),
					zap.String("reason", reason),
				)
				res.skipped = append(res.skipped, pt.ID)
				continue
			}
			payouts = append(payouts, payout)
			res.paid = append(res.paid, pt)
		}
		if len(payouts) == 0 {
			return nil
		}

		seqno, err := p.sender.Seqno(ctx)
		if err != nil {
			return fmt.Errorf("get seqno: %w", err)
		}
		for i, pt := range res.paid {
			p.log.Info("sending payout",
				zap.String("giveaway_id", pt.GiveawayID),
				zap.Int64("participant_id", pt.ID),
				zap.String("to", payouts[i].To.String()),
				zap.String("amount", payouts[i].Amount.String()),
				zap.Bool("jetton", payouts[i].Jetton != nil),
				zap.Uint64("seqno", seqno),
			)
		}

		if err := p.sender.Transfer(ctx, seqno, payouts); err != nil {
			p.metrics.Payouts(metrics.PayoutFailed, len(payouts))
			return fmt.Errorf("submit transfer (seqno %d): %w", seqno, err)
		}
		if err := p.awaitSeqno(ctx, seqno); err != nil {
			p.metrics.Payouts(metrics.PayoutFailed, len(payouts))
			return err
		}

		if _, err := tx.SetParticipantsStatus(ctx, ids(res.paid), models.ParticipantStatusAwaitingPayment, models.ParticipantStatusPaid); err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}

		for _, id := range giveawayIDs(res.paid) {
			g := giveaways[id]
			settled, err := tx.CountSettledParticipants(ctx, id)
			if err != nil {
				return fmt.Errorf("count settled participants of %s: %w", id, err)
			}
			if settled < g.ReceiverCount || g.Status != models.GiveawayStatusActive {
				continue
			}
			ok, err := tx.SetGiveawayStatus(ctx, id, models.GiveawayStatusActive, models.GiveawayStatusFinished)
			if err != nil {
				return fmt.Errorf("finish %s: %w", id, err)
			}
			if ok {
				res.finished = append(res.finished, id)
			}
		}
		return nil
	})
	if err != nil {
		p.log.Error("payout batch rolled back", zap.Error(err))
		return batchResult{}, err
	}
	return res, nil
}

// awaitSeqno keeps the batch open until the wallet reports a seqno past the
// one it was signed with. Until then the next batch would be signed with the
// same seqno and silently rejected by the wallet.
func (p *PayoutDispatcher) awaitSeqno(ctx context.Context, signed uint64) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.SeqnoWait)
	defer cancel()

	ticker := time.NewTicker(p.opts.SeqnoPoll)
	defer ticker.Stop()
	for {
		current, err := p.sender.Seqno(ctx)
		if err == nil && current > signed {
			return nil
		}
		if err != nil {
			p.log.Warn("failed to read seqno after transfer", zap.Uint64("seqno", signed), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: signed with %d", ErrSeqnoNotAdvanced, signed)
		case <-ticker.C:
		}
	}
}

// payoutFor builds the transfer for one participant, or the reason it cannot be paid.
func (p *PayoutDispatcher) payoutFor(pt models.Participant, g *models.Giveaway) (ton.Payout, string) {
	if g == nil {
		return ton.Payout{}, "giveaway not found"
	}
	to, err := ton.AddressFromRaw(pt.ReceiverAddress)
	if err != nil {
		return ton.Payout{}, "undecodable receiver address"
	}

	var jetton *address.Address
	if !g.IsNative() {
		if jetton, err = ton.AddressFromRaw(g.TokenAddress); err != nil {
			return ton.Payout{}, "undecodable token address"
		}
	}

	return ton.Payout{
		To:      to,
		Amount:  g.Amount,
		Jetton:  jetton,
		Comment: p.opts.Comment(g.ID),
	}, ""
}

func (p *PayoutDispatcher) publish(ctx context.Context, e events.Event) {
	if err := p.publisher.Publish(ctx, events.ChannelGiveaways, e); err != nil {
		p.log.Warn("failed to publish event", zap.String("type", e.Type), zap.Error(err))
	}
}

func giveawayIDs(ps []models.Participant) []string {
	seen := make(map[string]struct{}, len(ps))
	var out []string
	for _, pt := range ps {
		if _, ok := seen[pt.GiveawayID]; ok {
			continue
		}
		seen[pt.GiveawayID] = struct{}{}
		out = append(out, pt.GiveawayID)
	}
	return out
}
