package repositories

import (
	"context"
	"errors"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ton-giveaways/backend/internal/models"
)

// GiveawayStore is the API side of the giveaway tables.
type GiveawayStore interface {
	CreateGiveaway(ctx context.Context, g *models.Giveaway) error
	GetGiveaway(ctx context.Context, id string) (*models.Giveaway, error)
	LockGiveaway(ctx context.Context, id string) (*models.Giveaway, error)
	SetGiveawayStatus(ctx context.Context, id, from, to string) (bool, error)
	CountParticipants(ctx context.Context, giveawayID string) (int, error)
	CollectedAmount(ctx context.Context, giveawayID string) (*big.Int, error)

	GetParticipant(ctx context.Context, giveawayID string, receiver []byte) (*models.Participant, error)
	LockParticipant(ctx context.Context, giveawayID string, receiver []byte) (*models.Participant, error)
	CreateParticipant(ctx context.Context, p *models.Participant) error
	UpdateParticipantStatus(ctx context.Context, id int64, from, to string) (bool, error)

	InTx(ctx context.Context, fn func(s GiveawayStore) error) error
}

type GiveawayRepo struct {
	pool *pgxpool.Pool
	q    querier
}

func NewGiveawayRepo(pool *pgxpool.Pool) *GiveawayRepo {
	return &GiveawayRepo{pool: pool, q: pool}
}

func (r *GiveawayRepo) InTx(ctx context.Context, fn func(s GiveawayStore) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&GiveawayRepo{q: tx})
	})
}

func (r *GiveawayRepo) CreateGiveaway(ctx context.Context, g *models.Giveaway) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO giveaways (id, type, status, ends_at, token_address, amount, receiver_count, task_url, task_token)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
		RETURNING created_at, updated_at
	`, g.ID, g.Type, g.Status, g.EndsAt, g.TokenAddress, g.Amount.String(), g.ReceiverCount,
		g.TaskURL, g.TaskToken).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *GiveawayRepo) GetGiveaway(ctx context.Context, id string) (*models.Giveaway, error) {
	g, err := scanGiveaway(r.q.QueryRow(ctx, `SELECT `+giveawayColumns+` FROM giveaways WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (r *GiveawayRepo) LockGiveaway(ctx context.Context, id string) (*models.Giveaway, error) {
	g, err := scanGiveaway(r.q.QueryRow(ctx, `SELECT `+giveawayColumns+` FROM giveaways WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (r *GiveawayRepo) SetGiveawayStatus(ctx context.Context, id, from, to string) (bool, error) {
	return setGiveawayStatus(ctx, r.q, id, from, to)
}

// CountParticipants counts participants past the task step.
func (r *GiveawayRepo) CountParticipants(ctx context.Context, giveawayID string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*) FROM participants WHERE giveaway_id = $1 AND status = ANY($2)
	`, giveawayID, models.CountedParticipantStatuses).Scan(&n)
	return n, err
}

func (r *GiveawayRepo) CollectedAmount(ctx context.Context, giveawayID string) (*big.Int, error) {
	var sum string
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM ledger_transactions WHERE giveaway_id = $1
	`, giveawayID).Scan(&sum)
	if err != nil {
		return nil, err
	}
	return parseNumeric(sum)
}

func (r *GiveawayRepo) GetParticipant(ctx context.Context, giveawayID string, receiver []byte) (*models.Participant, error) {
	return r.participant(ctx, `
		SELECT `+participantColumns+` FROM participants WHERE giveaway_id = $1 AND receiver_address = $2
	`, giveawayID, receiver)
}

func (r *GiveawayRepo) LockParticipant(ctx context.Context, giveawayID string, receiver []byte) (*models.Participant, error) {
	return r.participant(ctx, `
		SELECT `+participantColumns+` FROM participants WHERE giveaway_id = $1 AND receiver_address = $2 FOR UPDATE
	`, giveawayID, receiver)
}

func (r *GiveawayRepo) participant(ctx context.Context, sql string, args ...any) (*models.Participant, error) {
	p, err := scanParticipant(r.q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GiveawayRepo) CreateParticipant(ctx context.Context, p *models.Participant) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO participants (giveaway_id, receiver_address, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, p.GiveawayID, p.ReceiverAddress, p.Status).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *GiveawayRepo) UpdateParticipantStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	if !models.IsValidParticipantTransition(from, to) {
		return false, nil
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE participants SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
