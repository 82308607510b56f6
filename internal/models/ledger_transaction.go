package models

import (
	"math/big"
	"time"
)

// LedgerTransaction mirrors one significant on-chain transfer linked to a giveaway.
// Rows are append-only.
type LedgerTransaction struct {
	Hash                 []byte    `json:"hash"`
	LogicalTime          uint64    `json:"logical_time"`
	FromAddress          []byte    `json:"from_address"`
	ToAddress            []byte    `json:"to_address"`
	TokenAddress         []byte    `json:"token_address,omitempty"` // jetton master, nil for TON
	Amount               *big.Int  `json:"amount"`
	GiveawayID           string    `json:"giveaway_id"`
	TransactionCreatedAt time.Time `json:"transaction_created_at"`
	DatabaseCreatedAt    time.Time `json:"database_created_at"`
}
