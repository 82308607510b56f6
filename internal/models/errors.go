package models

import "errors"

var (
	ErrInvalidGiveawayType      = errors.New("giveaway type must be instant or lottery")
	ErrNonPositiveAmount        = errors.New("amount must be positive")
	ErrNonPositiveReceiverCount = errors.New("receiver count must be positive")
	ErrLotteryWithoutEnd        = errors.New("lottery giveaways must have an end time")
)
