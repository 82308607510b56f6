package models

import "time"

// Participant statuses
const (
	ParticipantStatusAwaitingTask    = "awaitingTask"
	ParticipantStatusAwaitingLottery = "awaitingLottery"
	ParticipantStatusAwaitingPayment = "awaitingPayment"
	ParticipantStatusPaid            = "paid"
	ParticipantStatusLost            = "lost"
)

var ValidParticipantTransitions = map[string][]string{
	ParticipantStatusAwaitingTask:    {ParticipantStatusAwaitingLottery, ParticipantStatusAwaitingPayment},
	ParticipantStatusAwaitingLottery: {ParticipantStatusAwaitingPayment, ParticipantStatusLost},
	ParticipantStatusAwaitingPayment: {ParticipantStatusPaid},
	ParticipantStatusPaid:            {},
	ParticipantStatusLost:            {},
}

func IsValidParticipantTransition(from, to string) bool {
	return isValidTransition(ValidParticipantTransitions, from, to)
}

// CountedParticipantStatuses are the statuses reported as "participants";
// those still waiting for a task are not counted.
var CountedParticipantStatuses = []string{
	ParticipantStatusAwaitingLottery,
	ParticipantStatusAwaitingPayment,
	ParticipantStatusPaid,
	ParticipantStatusLost,
}

// SettledParticipantStatuses are terminal: the participant was either paid or lost the draw.
var SettledParticipantStatuses = []string{
	ParticipantStatusPaid,
	ParticipantStatusLost,
}

type Participant struct {
	ID              int64     `json:"id"`
	GiveawayID      string    `json:"giveaway_id"`
	ReceiverAddress []byte    `json:"-"` // raw 36-byte address
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// InitialParticipantStatus is the status a fresh check-in starts with.
func InitialParticipantStatus(g *Giveaway) string {
	switch {
	case g.TaskURL != nil && *g.TaskURL != "":
		return ParticipantStatusAwaitingTask
	case g.Type == GiveawayTypeInstant:
		return ParticipantStatusAwaitingPayment
	default:
		return ParticipantStatusAwaitingLottery
	}
}

// TaskCompletedStatus is the status after the external task is done.
func TaskCompletedStatus(g *Giveaway) string {
	if g.Type == GiveawayTypeInstant {
		return ParticipantStatusAwaitingPayment
	}
	return ParticipantStatusAwaitingLottery
}
