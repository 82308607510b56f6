package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/ton-giveaways/backend/internal/config"
	"github.com/ton-giveaways/backend/internal/models"
	"github.com/ton-giveaways/backend/internal/repositories"
	"github.com/ton-giveaways/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/zap"
)

var (
	ErrInvalidSecret           = errors.New("invalid secret")
	ErrGiveawayNotFound        = errors.New("giveaway not found")
	ErrGiveawayNotActive       = errors.New("giveaway is not active")
	ErrGiveawayEnded           = errors.New("giveaway has ended")
	ErrGiveawayFull            = errors.New("giveaway has no free places left")
	ErrAlreadyCheckedIn        = errors.New("already checked in")
	ErrParticipantNotFound     = errors.New("participant not found")
	ErrInvalidTaskToken        = errors.New("invalid task token")
	ErrInvalidParticipantState = errors.New("invalid participant status")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrInvalidGiveaway         = errors.New("invalid giveaway")
)

type CreateGiveawayInput struct {
	Type          string
	EndsAt        *time.Time
	TokenAddress  string
	Amount        string
	ReceiverCount int
	TaskURL       *string
}

type CreatedGiveaway struct {
	ID           string  `json:"id"`
	GiveawayLink string  `json:"giveawayLink"`
	TopUpLink    string  `json:"topUpLink"`
	TaskToken    *string `json:"taskToken"`
}

type GiveawayView struct {
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	EndsAt           *time.Time `json:"endsAt"`
	TokenAddress     *string    `json:"tokenAddress"`
	Amount           string     `json:"amount"`
	ReceiverCount    int        `json:"receiverCount"`
	TaskURL          *string    `json:"taskUrl"`
	ParticipantCount int        `json:"participantCount"`
	RequiredAmount   string     `json:"requiredAmount"`
	CollectedAmount  string     `json:"collectedAmount"`
	GiveawayLink     string     `json:"giveawayLink"`
	TopUpLink        string     `json:"topUpLink"`
}

type CheckinView struct {
	Giveaway GiveawayView `json:"giveaway"`
	Status   string       `json:"status"`
}

type GiveawayService struct {
	store    repositories.GiveawayStore
	operator *address.Address
	cfg      *config.Config
	log      *zap.Logger

	now   func() time.Time
	newID func() (string, error)
}

func NewGiveawayService(store repositories.GiveawayStore, operator *address.Address, cfg *config.Config, log *zap.Logger) *GiveawayService {
	return &GiveawayService{
		store:    store,
		operator: operator,
		cfg:      cfg,
		log:      log.With(zap.String("service", "giveaway")),
		now:      time.Now,
		newID:    func() (string, error) { return gonanoid.New() },
	}
}

func (s *GiveawayService) Create(ctx context.Context, secret string, in CreateGiveawayInput) (*CreatedGiveaway, error) {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.GiveawaySecret)) != 1 {
		return nil, ErrInvalidSecret
	}

	amount, ok := new(big.Int).SetString(in.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not an integer", ErrInvalidGiveaway, in.Amount)
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	g := &models.Giveaway{
		ID:            id,
		Type:          in.Type,
		Status:        models.GiveawayStatusPending,
		EndsAt:        in.EndsAt,
		Amount:        amount,
		ReceiverCount: in.ReceiverCount,
		TaskURL:       in.TaskURL,
	}
	if in.TokenAddress != "" {
		if g.TokenAddress, err = ton.ParseAddressToRaw(in.TokenAddress); err != nil {
			return nil, fmt.Errorf("%w: token address: %v", ErrInvalidAddress, err)
		}
	}
	if in.TaskURL != nil && *in.TaskURL != "" {
		token, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generate task token: %w", err)
		}
		g.TaskToken = &token
	} else {
		g.TaskURL = nil
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGiveaway, err)
	}

	if err := s.store.CreateGiveaway(ctx, g); err != nil {
		return nil, err
	}

	s.log.Info("giveaway created",
		zap.String("giveaway_id", g.ID),
		zap.String("type", g.Type),
		zap.String("amount", g.Amount.String()),
		zap.Int("receiver_count", g.ReceiverCount),
	)

	return &CreatedGiveaway{
		ID:           g.ID,
		GiveawayLink: s.cfg.GiveawayLink(g.ID),
		TopUpLink:    s.topUpLink(g),
		TaskToken:    g.TaskToken,
	}, nil
}

func (s *GiveawayService) Get(ctx context.Context, id string) (*GiveawayView, error) {
	if !storableID(id) {
		return nil, ErrGiveawayNotFound
	}
	g, err := s.store.GetGiveaway(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrGiveawayNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.view(ctx, s.store, g)
}

// CheckIn registers receiver as a participant of the giveaway.
func (s *GiveawayService) CheckIn(ctx context.Context, id, receiver string) (*CheckinView, error) {
	raw, err := ton.ParseAddressToRaw(receiver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	var out *CheckinView
	err = s.store.InTx(ctx, func(tx repositories.GiveawayStore) error {
		g, err := s.lockOpen(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.GetParticipant(ctx, g.ID, raw); err == nil {
			return ErrAlreadyCheckedIn
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		status := models.InitialParticipantStatus(g)
		if status != models.ParticipantStatusAwaitingTask {
			if err := s.ensureCapacity(ctx, tx, g); err != nil {
				return err
			}
		}

		p := &models.Participant{GiveawayID: g.ID, ReceiverAddress: raw, Status: status}
		if err := tx.CreateParticipant(ctx, p); err != nil {
			if errors.Is(err, repositories.ErrAlreadyExists) {
				return ErrAlreadyCheckedIn
			}
			return err
		}

		view, err := s.view(ctx, tx, g)
		if err != nil {
			return err
		}
		out = &CheckinView{Giveaway: *view, Status: p.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("participant checked in",
		zap.String("giveaway_id", id),
		zap.String("receiver", receiver),
		zap.String("status", out.Status),
	)
	return out, nil
}

func (s *GiveawayService) GetCheckin(ctx context.Context, id, receiver string) (string, error) {
	raw, err := ton.ParseAddressToRaw(receiver)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !storableID(id) {
		return "", ErrParticipantNotFound
	}
	p, err := s.store.GetParticipant(ctx, id, raw)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", ErrParticipantNotFound
	}
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// CompleteTask is called by the task owner once receiver has done the task.
func (s *GiveawayService) CompleteTask(ctx context.Context, id, taskToken, receiver string) (string, error) {
	raw, err := ton.ParseAddressToRaw(receiver)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if !storableID(id) {
		return "", ErrInvalidTaskToken
	}

	var status string
	err = s.store.InTx(ctx, func(tx repositories.GiveawayStore) error {
		g, err := tx.LockGiveaway(ctx, id)
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrInvalidTaskToken
		}
		if err != nil {
			return err
		}
		if g.TaskToken == nil || subtle.ConstantTimeCompare([]byte(*g.TaskToken), []byte(taskToken)) != 1 {
			return ErrInvalidTaskToken
		}
		if err := s.checkOpen(g); err != nil {
			return err
		}

		p, err := tx.LockParticipant(ctx, g.ID, raw)
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrParticipantNotFound
		}
		if err != nil {
			return err
		}
		if p.Status != models.ParticipantStatusAwaitingTask {
			return ErrInvalidParticipantState
		}
		if err := s.ensureCapacity(ctx, tx, g); err != nil {
			return err
		}

		status = models.TaskCompletedStatus(g)
		ok, err := tx.UpdateParticipantStatus(ctx, p.ID, p.Status, status)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidParticipantState
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info("task completed",
		zap.String("giveaway_id", id),
		zap.String("receiver", receiver),
		zap.String("status", status),
	)
	return status, nil
}

func (s *GiveawayService) lockOpen(ctx context.Context, tx repositories.GiveawayStore, id string) (*models.Giveaway, error) {
	if !storableID(id) {
		return nil, ErrGiveawayNotFound
	}
	g, err := tx.LockGiveaway(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrGiveawayNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, s.checkOpen(g)
}

// storableID reports whether id can be a text key at all. Postgres refuses
// invalid UTF-8 and NUL bytes, and no generated id contains them.
func storableID(id string) bool {
	return id != "" && utf8.ValidString(id) && !strings.ContainsRune(id, 0)
}

func (s *GiveawayService) checkOpen(g *models.Giveaway) error {
	if g.Status != models.GiveawayStatusActive {
		return ErrGiveawayNotActive
	}
	if g.HasEnded(s.now()) {
		return ErrGiveawayEnded
	}
	return nil
}

// ensureCapacity keeps instant giveaways from promising more payouts than were funded.
func (s *GiveawayService) ensureCapacity(ctx context.Context, tx repositories.GiveawayStore, g *models.Giveaway) error {
	if g.Type != models.GiveawayTypeInstant {
		return nil
	}
	n, err := tx.CountParticipants(ctx, g.ID)
	if err != nil {
		return err
	}
	if n >= g.ReceiverCount {
		return ErrGiveawayFull
	}
	return nil
}

func (s *GiveawayService) view(ctx context.Context, q repositories.GiveawayStore, g *models.Giveaway) (*GiveawayView, error) {
	count, err := q.CountParticipants(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	collected, err := q.CollectedAmount(ctx, g.ID)
	if err != nil {
		return nil, err
	}

	v := &GiveawayView{
		Type:             g.Type,
		Status:           g.Status,
		EndsAt:           g.EndsAt,
		Amount:           g.Amount.String(),
		ReceiverCount:    g.ReceiverCount,
		TaskURL:          g.TaskURL,
		ParticipantCount: count,
		RequiredAmount:   g.RequiredFunding().String(),
		CollectedAmount:  collected.String(),
		GiveawayLink:     s.cfg.GiveawayLink(g.ID),
		TopUpLink:        s.topUpLink(g),
	}
	if !g.IsNative() {
		token := ton.FormatRaw(g.TokenAddress, !s.cfg.IsMainnet())
		v.TokenAddress = &token
	}
	return v, nil
}

func (s *GiveawayService) topUpLink(g *models.Giveaway) string {
	if s.operator == nil {
		return ""
	}
	var master *address.Address
	if !g.IsNative() {
		m, err := ton.AddressFromRaw(g.TokenAddress)
		if err != nil {
			s.log.Warn("stored token address is invalid", zap.String("giveaway_id", g.ID), zap.Error(err))
			return ""
		}
		master = m
	}
	return ton.TopUpLink(s.operator, g.ID, g.RequiredFunding(), master)
}
