package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State mirrors the settlement contract enum (same ordinal values).
type State uint8

const (
	StateUninitialized State = iota
	StatePaid
	StateRefunded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StatePaid:
		return "PAID"
	case StateRefunded:
		return "REFUNDED"
	default:
		return "UNKNOWN"
	}
}

// Record is a read-only snapshot of one escrow slot in the settlement
// contract. An absent payment is the contract's own zero record with
// State = UNINITIALIZED, not an error.
type Record struct {
	Customer common.Address `json:"customer"`
	Provider common.Address `json:"provider"`
	Asset    common.Address `json:"asset"`
	Value    *big.Int       `json:"value"`
	State    State          `json:"state"`
}

// Price is a fiat amount in a decimal string, e.g. {"100.00", "USD"}.
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}
