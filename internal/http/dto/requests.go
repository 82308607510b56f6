package dto

import "time"

type NewGiveaway struct {
	Type          string     `json:"type"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	TokenAddress  *string    `json:"tokenAddress,omitempty"`
	Amount        string     `json:"amount"` // per receiver, nano units
	ReceiverCount int        `json:"receiverCount"`
	TaskURL       *string    `json:"taskUrl,omitempty"`
}

type CreateGiveawayRequest struct {
	Giveaway NewGiveaway `json:"giveaway"`
	Secret   string      `json:"secret"`
}

type CompleteTaskRequest struct {
	TaskToken       string `json:"taskToken"`
	ReceiverAddress string `json:"receiverAddress"`
}
