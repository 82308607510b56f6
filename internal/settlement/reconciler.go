package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ton-giveaways/backend/internal/events"
	"github.com/ton-giveaways/backend/internal/metrics"
	"github.com/ton-giveaways/backend/internal/models"
	"github.com/ton-giveaways/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

type ReconcilerOptions struct {
	PageSize uint32
	// HistoryCutoff stops the backward walk at transactions older than it.
	HistoryCutoff time.Time
}

// Reconciler mirrors deposits to the operator wallet into the store and
// activates giveaways once they are funded.
type Reconciler struct {
	store     Store
	chain     ChainReader
	publisher events.Publisher
	metrics   *metrics.Settlement
	opts      ReconcilerOptions
	log       *zap.Logger
}

func NewReconciler(store Store, chain ChainReader, publisher events.Publisher, m *metrics.Settlement, opts ReconcilerOptions, log *zap.Logger) *Reconciler {
	if opts.PageSize == 0 {
		opts.PageSize = 10
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Reconciler{
		store:     store,
		chain:     chain,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		log:       log.With(zap.String("job", JobReconcile)),
	}
}

// deposit is a decoded inbound transfer. Jetton is nil for native coin.
type deposit struct {
	memo   string
	from   *address.Address
	amount *big.Int
	jetton *address.Address
}

// Reconcile walks the operator wallet history back to the checkpoint and
// replays the new transactions oldest first.
func (r *Reconciler) Reconcile(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { r.metrics.ObserveJob(JobReconcile, time.Since(start).Seconds(), err) }()

	balance, err := r.chain.Balance(ctx)
	if err != nil {
		r.log.Warn("failed to fetch operator balance", zap.Error(err))
	} else {
		r.metrics.OperatorBalance(balance)
		r.log.Info("operator balance", zap.String("nano", balance.String()))
	}

	cp, err := r.store.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	pending, err := r.collect(ctx, cp)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.log.Debug("no new transactions")
		return nil
	}

	r.log.Info("new transactions to process", zap.Int("count", len(pending)))

	for i := len(pending) - 1; i >= 0; i-- {
		stop, err := r.process(ctx, pending[i])
		if err != nil {
			return err
		}
		if stop {
			r.log.Info("checkpoint moved by a concurrent run, stopping",
				zap.Uint64("lt", pending[i].LT),
				zap.String("hash", hex.EncodeToString(pending[i].Hash)),
			)
			return nil
		}
	}
	return nil
}

// collect pages backward from the head of the account until it reaches the
// checkpoint, the history cutoff or the start of history. The result is
// newest first.
func (r *Reconciler) collect(ctx context.Context, cp models.Checkpoint) ([]ton.Transaction, error) {
	var out []ton.Transaction
	var cursor *ton.Cursor

	for {
		page, err := r.chain.ListTransactions(ctx, cursor, r.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		if len(page) == 0 {
			return out, nil
		}

		for _, tx := range page {
			if !r.opts.HistoryCutoff.IsZero() && tx.Now.Before(r.opts.HistoryCutoff) {
				r.log.Info("reached the history cutoff", zap.String("hash", hex.EncodeToString(tx.Hash)))
				return out, nil
			}
			if cp.Covers(tx.LT, tx.Hash) {
				r.log.Debug("reached an already processed transaction", zap.String("hash", hex.EncodeToString(tx.Hash)))
				return out, nil
			}
			out = append(out, tx)
		}

		cursor = ton.Next(page)
		if cursor == nil {
			return out, nil
		}
	}
}

// process handles one transaction. stop reports a checkpoint conflict.
func (r *Reconciler) process(ctx context.Context, tx ton.Transaction) (stop bool, err error) {
	log := r.log.With(zap.String("hash", hex.EncodeToString(tx.Hash)), zap.Uint64("lt", tx.LT))

	d, reason, err := r.classify(ctx, tx)
	if err != nil {
		return false, err
	}
	if reason != "" {
		log.Info("transaction skipped", zap.String("reason", reason))
		return r.checkpointOnly(ctx, tx, log)
	}

	return r.record(ctx, tx, d, log)
}

// classify decodes a transaction into a deposit, or returns the reason it is
// not one. Only transient ledger failures are returned as errors.
func (r *Reconciler) classify(ctx context.Context, tx ton.Transaction) (*deposit, string, error) {
	in := tx.In
	operator := r.chain.Address()

	switch {
	case in == nil || !in.Internal:
		return nil, "external message", nil
	case in.Bounced:
		return nil, "bounced", nil
	case ton.SameAccount(in.Src, operator):
		return nil, "outgoing transfer", nil
	case !ton.SameAccount(in.Dst, operator):
		return nil, "not addressed to the operator wallet", nil
	}

	body := ton.DecodeBody(in.Body)
	if _, ok := body.(ton.Opaque); ok {
		return nil, "unknown body", nil
	}
	memo := ton.Memo(body)
	if memo == "" {
		return nil, "no comment", nil
	}

	d := &deposit{memo: memo, from: in.Src, amount: in.Amount}

	n, ok := body.(ton.JettonNotification)
	if !ok {
		return d, "", nil
	}
	if n.Sender == nil {
		return nil, "jetton notification without sender", nil
	}

	master, err := r.chain.JettonMaster(ctx, in.Src)
	if err != nil {
		if ton.IsRetryable(err) {
			return nil, "", fmt.Errorf("resolve jetton master: %w", err)
		}
		r.log.Warn("jetton wallet verification failed", zap.String("wallet", in.Src.String()), zap.Error(err))
		return nil, "unverified jetton wallet", nil
	}

	d.from = n.Sender
	d.amount = n.Amount
	d.jetton = master
	return d, "", nil
}

func checkpointOf(tx ton.Transaction) models.Checkpoint {
	return models.Checkpoint{Hash: tx.Hash, LT: tx.LT}
}

func (r *Reconciler) checkpointOnly(ctx context.Context, tx ton.Transaction, log *zap.Logger) (bool, error) {
	err := r.store.InTx(ctx, func(dbtx Tx) error {
		return dbtx.AdvanceCheckpoint(ctx, checkpointOf(tx))
	})
	if errors.Is(err, ErrCheckpointConflict) {
		r.metrics.TransactionProcessed(metrics.OutcomeConflict)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("advance checkpoint: %w", err)
	}
	r.metrics.TransactionProcessed(metrics.OutcomeSkipped)
	return false, nil
}

// mismatch explains why a deposit cannot fund g, or returns "".
func mismatch(g *models.Giveaway, d *deposit) string {
	switch {
	case g.IsNative() && d.jetton != nil:
		return "expected TON, got jetton"
	case !g.IsNative() && d.jetton == nil:
		return "expected jetton, got TON"
	case !g.IsNative():
		raw, err := ton.AddressToRaw(d.jetton)
		if err != nil || !bytes.Equal(raw, g.TokenAddress) {
			return "jetton master mismatch"
		}
	}
	return ""
}

func (r *Reconciler) record(ctx context.Context, tx ton.Transaction, d *deposit, log *zap.Logger) (bool, error) {
	from, err := ton.AddressToRaw(d.from)
	if err != nil {
		log.Info("transaction skipped", zap.String("reason", "undecodable sender address"))
		return r.checkpointOnly(ctx, tx, log)
	}
	to, err := ton.AddressToRaw(r.chain.Address())
	if err != nil {
		return false, fmt.Errorf("operator address: %w", err)
	}
	var token []byte
	if d.jetton != nil {
		if token, err = ton.AddressToRaw(d.jetton); err != nil {
			log.Info("transaction skipped", zap.String("reason", "undecodable jetton master"))
			return r.checkpointOnly(ctx, tx, log)
		}
	}

	log = log.With(zap.String("giveaway_id", d.memo))

	var (
		outcome string
		reason  string
		funded  bool
		total   *big.Int
	)
	err = r.store.InTx(ctx, func(dbtx Tx) error {
		outcome, reason, funded, total = "", "", false, nil

		exists, err := dbtx.LedgerTransactionExists(ctx, tx.Hash)
		if err != nil {
			return err
		}
		if exists {
			outcome = metrics.OutcomeDuplicate
			return nil
		}

		if err := dbtx.AdvanceCheckpoint(ctx, checkpointOf(tx)); err != nil {
			return err
		}

		g, err := dbtx.GiveawayForUpdate(ctx, d.memo)
		if err != nil {
			return err
		}
		if g == nil {
			outcome, reason = metrics.OutcomeSkipped, "no giveaway for memo"
			return nil
		}
		if why := mismatch(g, d); why != "" {
			outcome, reason = metrics.OutcomeSkipped, why
			return nil
		}

		inserted, err := dbtx.InsertLedgerTransaction(ctx, &models.LedgerTransaction{
			Hash:                 tx.Hash,
			LogicalTime:          tx.LT,
			FromAddress:          from,
			ToAddress:            to,
			TokenAddress:         token,
			Amount:               d.amount,
			GiveawayID:           g.ID,
			TransactionCreatedAt: tx.Now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			outcome = metrics.OutcomeDuplicate
			return nil
		}
		outcome = metrics.OutcomeRecorded

		if g.Status != models.GiveawayStatusPending {
			return nil
		}

		total, err = dbtx.SumLedgerTransactions(ctx, g.ID)
		if err != nil {
			return err
		}
		if !g.IsFunded(total) {
			return nil
		}
		funded, err = dbtx.SetGiveawayStatus(ctx, g.ID, models.GiveawayStatusPending, models.GiveawayStatusActive)
		return err
	})

	if errors.Is(err, ErrCheckpointConflict) {
		r.metrics.TransactionProcessed(metrics.OutcomeConflict)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("record transaction: %w", err)
	}

	r.metrics.TransactionProcessed(outcome)

	switch outcome {
	case metrics.OutcomeDuplicate:
		log.Info("transaction already recorded, skip")
	case metrics.OutcomeSkipped:
		log.Info("transaction skipped", zap.String("reason", reason))
	case metrics.OutcomeRecorded:
		log.Info("deposit recorded", zap.String("amount", d.amount.String()), zap.Bool("jetton", d.jetton != nil))
		r.publish(ctx, events.Event{
			Type:       events.EventDepositReceived,
			GiveawayID: d.memo,
			Payload: map[string]any{
				"hash":   hex.EncodeToString(tx.Hash),
				"amount": d.amount.String(),
			},
		})
		if funded {
			log.Info("giveaway funded, now active", zap.String("collected", total.String()))
			r.publish(ctx, events.Event{
				Type:       events.EventGiveawayFunded,
				GiveawayID: d.memo,
				Payload:    map[string]any{"collected": total.String()},
			})
		} else if total != nil {
			log.Info("giveaway still pending", zap.String("collected", total.String()))
		}
	}
	return false, nil
}

func (r *Reconciler) publish(ctx context.Context, e events.Event) {
	if err := r.publisher.Publish(ctx, events.ChannelGiveaways, e); err != nil {
		r.log.Warn("failed to publish event", zap.String("type", e.Type), zap.Error(err))
	}
}
