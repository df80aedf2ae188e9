package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

// draft stages ledger mutations for a single operation. Both debt views are
// updated together so they stay numerically equal; nothing reaches the
// state store until the operation commits.
type draft struct {
	pos *Position
	// touched holds the new outstanding amount per token for the acting
	// account, destined for the transposed per-token view on commit.
	touched map[string]*big.Int
}

func newDraft(pos *Position) *draft {
	return &draft{pos: pos, touched: make(map[string]*big.Int)}
}

// recordDebt increases the outstanding principal for the token and enrols
// it in the account's debt set. Fails with ErrOverflow when the new balance
// would exceed the 256-bit range.
func (d *draft) recordDebt(token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	next := new(big.Int).Add(d.pos.Debt(token), amount)
	if _, overflow := uint256.FromBig(next); overflow {
		return ErrOverflow
	}
	d.pos.setDebt(token, next)
	d.touched[token] = new(big.Int).Set(next)
	return nil
}

// reduceDebt decreases the outstanding principal for the token. Fails with
// ErrInsufficientDebt when the amount exceeds the current balance; partial
// repayment beyond the outstanding amount is rejected outright, not
// clamped.
func (d *draft) reduceDebt(token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	current := d.pos.Debt(token)
	if current.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	next := new(big.Int).Sub(current, amount)
	d.pos.setDebt(token, next)
	d.touched[token] = new(big.Int).Set(next)
	return nil
}

// aggregateDebtValue revalues the account's debt from scratch across every
// enrolled token. Recomputing on each operation is the correctness
// preserving choice: the aggregate always reflects current prices at the
// cost of one price lookup per enrolled token.
func (d *draft) aggregateDebtValue(valuator *Valuator) (*big.Int, error) {
	total := big.NewInt(0)
	for _, token := range d.pos.enrolledSorted() {
		outstanding := d.pos.Debt(token)
		if outstanding.Sign() == 0 {
			continue
		}
		value, err := valuator.Value(token, outstanding)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}
