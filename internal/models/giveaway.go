package models

import (
	"math/big"
	"time"
)

// Giveaway types
const (
	GiveawayTypeInstant = "instant"
	GiveawayTypeLottery = "lottery"
)

// Giveaway statuses
const (
	GiveawayStatusPending  = "pending"
	GiveawayStatusActive   = "active"
	GiveawayStatusFinished = "finished"
)

// Valid state transitions: from -> []to
var ValidGiveawayTransitions = map[string][]string{
	GiveawayStatusPending:  {GiveawayStatusActive},
	GiveawayStatusActive:   {GiveawayStatusFinished},
	GiveawayStatusFinished: {},
}

func IsValidGiveawayTransition(from, to string) bool {
	return isValidTransition(ValidGiveawayTransitions, from, to)
}

type Giveaway struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	TokenAddress  []byte     `json:"-"`      // raw jetton master address, nil for TON
	Amount        *big.Int   `json:"amount"` // per receiver, nano units
	ReceiverCount int        `json:"receiver_count"`
	TaskURL       *string    `json:"task_url,omitempty"`
	TaskToken     *string    `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsNative reports whether the giveaway is paid in the native coin.
func (g *Giveaway) IsNative() bool {
	return len(g.TokenAddress) == 0
}

// RequiredFunding is amount × receiverCount.
func (g *Giveaway) RequiredFunding() *big.Int {
	if g.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(g.Amount, big.NewInt(int64(g.ReceiverCount)))
}

// IsFunded reports whether collected covers the required funding.
func (g *Giveaway) IsFunded(collected *big.Int) bool {
	if collected == nil {
		return false
	}
	return collected.Cmp(g.RequiredFunding()) >= 0
}

// HasEnded is true for lotteries whose end time is at or before now.
func (g *Giveaway) HasEnded(now time.Time) bool {
	return g.EndsAt != nil && !g.EndsAt.After(now)
}

// Validate checks the invariants a stored giveaway must satisfy.
func (g *Giveaway) Validate() error {
	switch g.Type {
	case GiveawayTypeInstant, GiveawayTypeLottery:
	default:
		return ErrInvalidGiveawayType
	}
	if g.Amount == nil || g.Amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	if g.ReceiverCount <= 0 {
		return ErrNonPositiveReceiverCount
	}
	if g.Type == GiveawayTypeLottery && g.EndsAt == nil {
		return ErrLotteryWithoutEnd
	}
	return nil
}

func isValidTransition(table map[string][]string, from, to string) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
