package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ton-giveaways/backend/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const giveawayColumns = `id, type, status, ends_at, token_address, amount::text, receiver_count,
	task_url, task_token, created_at, updated_at`

const participantColumns = `id, giveaway_id, receiver_address, status, created_at, updated_at`

func scanGiveaway(row pgx.Row) (*models.Giveaway, error) {
	var g models.Giveaway
	var amount string
	err := row.Scan(&g.ID, &g.Type, &g.Status, &g.EndsAt, &g.TokenAddress, &amount, &g.ReceiverCount,
		&g.TaskURL, &g.TaskToken, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if g.Amount, err = parseNumeric(amount); err != nil {
		return nil, fmt.Errorf("giveaway %s amount: %w", g.ID, err)
	}
	return &g, nil
}

func scanParticipant(row pgx.Row) (models.Participant, error) {
	var p models.Participant
	err := row.Scan(&p.ID, &p.GiveawayID, &p.ReceiverAddress, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func collectParticipants(rows pgx.Rows) ([]models.Participant, error) {
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// parseNumeric reads a NUMERIC(78,0) rendered as text.
func parseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
