package lending

import (
	"math/big"
	"sort"
	"strings"

	"lendvault/crypto"
)

// Position maintains the lending position for an individual participant.
// Amounts are big integers in native token precision; the two value fields
// are cached aggregates in the common unit, refreshed on every operation.
type Position struct {
	// Address is the unique participant identifier.
	Address crypto.Address
	// CollateralValue is the last-computed aggregate collateral value in
	// the common unit. The collateral module owns the underlying deposits;
	// the lending engine only refreshes this cache.
	CollateralValue *big.Int
	// DebtValue is the last-computed aggregate debt value in the common
	// unit.
	DebtValue *big.Int
	// DebtByToken maps token symbols to outstanding principal in the
	// token's native unit. Entries are created lazily on first debt and
	// never removed, so a fully repaid token stays at zero.
	DebtByToken map[string]*big.Int
	// EnrolledDebtTokens lists every token that ever carried debt for this
	// participant, in enrolment order. It drives debt revaluation.
	EnrolledDebtTokens []string
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	if p.CollateralValue != nil {
		clone.CollateralValue = new(big.Int).Set(p.CollateralValue)
	}
	if p.DebtValue != nil {
		clone.DebtValue = new(big.Int).Set(p.DebtValue)
	}
	if p.DebtByToken != nil {
		clone.DebtByToken = make(map[string]*big.Int, len(p.DebtByToken))
		for token, amount := range p.DebtByToken {
			clone.DebtByToken[token] = new(big.Int).Set(amount)
		}
	}
	clone.EnrolledDebtTokens = append([]string(nil), p.EnrolledDebtTokens...)
	return clone
}

// Debt returns the outstanding principal for the token, zero when the token
// was never borrowed.
func (p *Position) Debt(token string) *big.Int {
	if p == nil || p.DebtByToken == nil {
		return big.NewInt(0)
	}
	if amount, ok := p.DebtByToken[token]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

func (p *Position) setDebt(token string, amount *big.Int) {
	if p.DebtByToken == nil {
		p.DebtByToken = make(map[string]*big.Int)
	}
	p.DebtByToken[token] = new(big.Int).Set(amount)
	p.enrol(token)
}

// enrol idempotently registers the token in the enrolled-debt set.
func (p *Position) enrol(token string) {
	for _, entry := range p.EnrolledDebtTokens {
		if entry == token {
			return
		}
	}
	p.EnrolledDebtTokens = append(p.EnrolledDebtTokens, token)
}

// enrolledSorted returns the enrolled tokens in deterministic order for
// revaluation.
func (p *Position) enrolledSorted() []string {
	tokens := append([]string(nil), p.EnrolledDebtTokens...)
	sort.Strings(tokens)
	return tokens
}

func normaliseToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
