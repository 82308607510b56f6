package repositories

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ton-giveaways/backend/internal/models"
	"github.com/ton-giveaways/backend/internal/settlement"
)

// SettlementStore is the postgres implementation of settlement.Store.
type SettlementStore struct {
	pool *pgxpool.Pool
}

func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

func (s *SettlementStore) LoadCheckpoint(ctx context.Context) (models.Checkpoint, error) {
	return loadCheckpoint(ctx, s.pool, false)
}

func (s *SettlementStore) InTx(ctx context.Context, fn func(tx settlement.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&settlementTx{tx: tx})
	})
}

func loadCheckpoint(ctx context.Context, q querier, forUpdate bool) (models.Checkpoint, error) {
	sql := `SELECT key, value FROM checkpoints WHERE key = ANY($1)`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, []string{models.CheckpointKeyHash, models.CheckpointKeyLT})
	if err != nil {
		return models.Checkpoint{}, err
	}
	defer rows.Close()

	var cp models.Checkpoint
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.Checkpoint{}, err
		}
		switch key {
		case models.CheckpointKeyHash:
			if cp.Hash, err = hex.DecodeString(value); err != nil {
				return models.Checkpoint{}, fmt.Errorf("checkpoint hash: %w", err)
			}
		case models.CheckpointKeyLT:
			if value == "" {
				continue
			}
			if cp.LT, err = strconv.ParseUint(value, 10, 64); err != nil {
				return models.Checkpoint{}, fmt.Errorf("checkpoint lt: %w", err)
			}
		}
	}
	if len(cp.Hash) == 0 {
		cp.Hash = nil
	}
	return cp, rows.Err()
}

type settlementTx struct {
	tx pgx.Tx
}

func (t *settlementTx) LedgerTransactionExists(ctx context.Context, hash []byte) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ledger_transactions WHERE hash = $1)`, hash).Scan(&exists)
	return exists, err
}

func (t *settlementTx) AdvanceCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	current, err := loadCheckpoint(ctx, t.tx, true)
	if err != nil {
		return err
	}
	if !current.Accepts(cp) {
		return settlement.ErrCheckpointConflict
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO checkpoints (key, value, updated_at)
		VALUES ($1, $2, now()), ($3, $4, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, models.CheckpointKeyHash, hex.EncodeToString(cp.Hash),
		models.CheckpointKeyLT, strconv.FormatUint(cp.LT, 10))
	return err
}

func (t *settlementTx) InsertLedgerTransaction(ctx context.Context, lt *models.LedgerTransaction) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_transactions (hash, logical_time, from_address, to_address, token_address,
		                                 amount, giveaway_id, transaction_created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6::numeric, $7, $8)
		ON CONFLICT (hash) DO NOTHING
	`, lt.Hash, strconv.FormatUint(lt.LogicalTime, 10), lt.FromAddress, lt.ToAddress, lt.TokenAddress,
		lt.Amount.String(), lt.GiveawayID, lt.TransactionCreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *settlementTx) SumLedgerTransactions(ctx context.Context, giveawayID string) (*big.Int, error) {
	var sum string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM ledger_transactions WHERE giveaway_id = $1
	`, giveawayID).Scan(&sum)
	if err != nil {
		return nil, err
	}
	return parseNumeric(sum)
}

func (t *settlementTx) GiveawayForUpdate(ctx context.Context, id string) (*models.Giveaway, error) {
	g, err := scanGiveaway(t.tx.QueryRow(ctx, `SELECT `+giveawayColumns+` FROM giveaways WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (t *settlementTx) GiveawaysByID(ctx context.Context, ids []string) (map[string]*models.Giveaway, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+giveawayColumns+` FROM giveaways WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.Giveaway, len(ids))
	for rows.Next() {
		g, err := scanGiveaway(rows)
		if err != nil {
			return nil, err
		}
		out[g.ID] = g
	}
	return out, rows.Err()
}

func (t *settlementTx) SetGiveawayStatus(ctx context.Context, id, from, to string) (bool, error) {
	return setGiveawayStatus(ctx, t.tx, id, from, to)
}

func setGiveawayStatus(ctx context.Context, q querier, id, from, to string) (bool, error) {
	if !models.IsValidGiveawayTransition(from, to) {
		return false, fmt.Errorf("invalid giveaway transition %s -> %s", from, to)
	}
	tag, err := q.Exec(ctx, `
		UPDATE giveaways SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *settlementTx) NextEndedLottery(ctx context.Context, now time.Time) (*models.Giveaway, error) {
	g, err := scanGiveaway(t.tx.QueryRow(ctx, `
		SELECT `+giveawayColumns+`
		FROM giveaways
		WHERE type = $1 AND status = $2 AND ends_at <= $3
		ORDER BY ends_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, models.GiveawayTypeLottery, models.GiveawayStatusActive, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (t *settlementTx) ParticipantsForUpdate(ctx context.Context, giveawayID, status string) ([]models.Participant, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE giveaway_id = $1 AND status = $2
		ORDER BY id
		FOR UPDATE
	`, giveawayID, status)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

func (t *settlementTx) SetParticipantsStatus(ctx context.Context, ids []int64, from, to string) (int64, error) {
	if !models.IsValidParticipantTransition(from, to) {
		return 0, fmt.Errorf("invalid participant transition %s -> %s", from, to)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE participants SET status = $3, updated_at = now()
		WHERE id = ANY($1) AND status = $2
	`, ids, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *settlementTx) ClaimAwaitingPayment(ctx context.Context, limit int, exclude []int64) ([]models.Participant, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+participantColumns+`
		FROM participants
		WHERE status = $1 AND NOT (id = ANY($2))
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, models.ParticipantStatusAwaitingPayment, exclude, limit)
	if err != nil {
		return nil, err
	}
	return collectParticipants(rows)
}

func (t *settlementTx) CountSettledParticipants(ctx context.Context, giveawayID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM participants WHERE giveaway_id = $1 AND status = ANY($2)
	`, giveawayID, models.SettledParticipantStatuses).Scan(&n)
	return n, err
}
