package events

import (
	"math/big"
	"strings"
	"time"

	"lendvault/core/types"
	"lendvault/crypto"
)

const (
	// TypeLendingBorrowed is emitted after a successful borrow.
	TypeLendingBorrowed = "lending.borrowed"
	// TypeLendingRepaid is emitted after a successful repayment.
	TypeLendingRepaid = "lending.repaid"
	// TypeLendingFeeCollected is emitted when a borrow origination fee is
	// added to the protocol fee pool.
	TypeLendingFeeCollected = "lending.feeCollected"
)

// LendingBorrowed records a principal transfer out of the liquidity pool.
type LendingBorrowed struct {
	Token     string
	Borrower  crypto.Address
	Amount    *big.Int
	Timestamp time.Time
}

func (LendingBorrowed) EventType() string { return TypeLendingBorrowed }

func (e LendingBorrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrowed,
		Attributes: map[string]string{
			"token":     strings.TrimSpace(e.Token),
			"borrower":  e.Borrower.String(),
			"amount":    bigString(e.Amount),
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		},
	}
}

// LendingRepaid records a principal transfer back into the liquidity pool.
type LendingRepaid struct {
	Token     string
	Borrower  crypto.Address
	Amount    *big.Int
	Timestamp time.Time
}

func (LendingRepaid) EventType() string { return TypeLendingRepaid }

func (e LendingRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRepaid,
		Attributes: map[string]string{
			"token":     strings.TrimSpace(e.Token),
			"borrower":  e.Borrower.String(),
			"amount":    bigString(e.Amount),
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		},
	}
}

// LendingFeeCollected records an origination fee credited to the fee pool.
type LendingFeeCollected struct {
	FeeToken  string
	Borrower  crypto.Address
	Fee       *big.Int
	Timestamp time.Time
}

func (LendingFeeCollected) EventType() string { return TypeLendingFeeCollected }

func (e LendingFeeCollected) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingFeeCollected,
		Attributes: map[string]string{
			"feeToken":  strings.TrimSpace(e.FeeToken),
			"borrower":  e.Borrower.String(),
			"fee":       bigString(e.Fee),
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
		},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
