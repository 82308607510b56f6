package events

import "context"

// Channel settlement events are published on.
const ChannelGiveaways = "events:giveaway"

// Event types
const (
	EventDepositReceived  = "deposit_received"
	EventGiveawayFunded   = "giveaway_funded"
	EventLotteryDrawn     = "lottery_drawn"
	EventParticipantPaid  = "participant_paid"
	EventGiveawayFinished = "giveaway_finished"
)

type Event struct {
	Type       string         `json:"type"`
	GiveawayID string         `json:"giveaway_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(Event)) error
}

// Nop drops every event. Used when redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
