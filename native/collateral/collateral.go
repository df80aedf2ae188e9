package collateral

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"lendvault/crypto"
	nativecommon "lendvault/native/common"
	"lendvault/storage"
)

const moduleName = "collateral"

var (
	// ErrInvalidAmount rejects zero or negative deposit/withdraw amounts.
	ErrInvalidAmount = errors.New("collateral module: amount must be positive")
	// ErrInsufficientDeposit rejects withdrawals exceeding the deposited
	// amount for the token.
	ErrInsufficientDeposit = errors.New("collateral module: withdrawal exceeds deposit")
	// ErrHealthCheckFailed rejects withdrawals that would leave the
	// remaining collateral below the minimum required for outstanding debt.
	ErrHealthCheckFailed = errors.New("collateral module: remaining collateral below minimum ratio")
	// ErrNilVault signals a missing token transfer facility.
	ErrNilVault = errors.New("collateral module: token vault not configured")
	// ErrNilPricer signals a missing valuation module.
	ErrNilPricer = errors.New("collateral module: pricer not configured")
)

// Pricer values a token amount in the common unit. The lending valuator
// satisfies this so both modules apply identical digit correction.
type Pricer interface {
	Value(token string, amount *big.Int) (*big.Int, error)
}

// Vault moves collateral assets between participants and the collateral
// treasury.
type Vault interface {
	TransferOut(token string, to crypto.Address, amount *big.Int) error
	TransferIn(token string, from crypto.Address, amount *big.Int) error
}

// RiskView exposes the debt side of a participant's position so
// withdrawals can be gated against the minimum collateral ratio.
type RiskView interface {
	DebtValue(addr crypto.Address) (*big.Int, error)
	MinimumCollateral(debtValue *big.Int) *big.Int
}

// Cache is notified after deposits and withdrawals so the lending engine
// can refresh its cached collateral value.
type Cache interface {
	RefreshCollateral(addr crypto.Address) error
}

const depositKeyPrefix = "collateral/deposits/"

// Module owns collateral deposit and withdrawal bookkeeping. The lending
// engine reads aggregate values through CollateralValue and never mutates
// deposits directly.
type Module struct {
	mu     sync.Mutex
	db     storage.Database
	pricer Pricer
	vault  Vault
	risk   RiskView
	cache  Cache
	pauses nativecommon.PauseView
}

// NewModule constructs a collateral module over the supplied database.
func NewModule(db storage.Database) *Module {
	return &Module{db: db}
}

// SetPricer wires the valuation module.
func (m *Module) SetPricer(pricer Pricer) { m.pricer = pricer }

// SetVault wires the token transfer facility for the collateral treasury.
func (m *Module) SetVault(vault Vault) { m.vault = vault }

// SetRiskView wires the debt-side view used to gate withdrawals.
func (m *Module) SetRiskView(risk RiskView) { m.risk = risk }

// SetCache wires the collateral cache refresh hook.
func (m *Module) SetCache(cache Cache) { m.cache = cache }

// SetPauses wires the module pause switches.
func (m *Module) SetPauses(p nativecommon.PauseView) { m.pauses = p }

type depositRecord struct {
	Address  string              `json:"address"`
	Deposits map[string]*big.Int `json:"deposits"`
}

func normaliseToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func (m *Module) loadDeposits(addr crypto.Address) (map[string]*big.Int, error) {
	raw, err := m.db.Get([]byte(depositKeyPrefix + addr.String()))
	if errors.Is(err, storage.ErrNotFound) {
		return make(map[string]*big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	var record depositRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("collateral module: decode deposits: %w", err)
	}
	if record.Deposits == nil {
		record.Deposits = make(map[string]*big.Int)
	}
	return record.Deposits, nil
}

func (m *Module) putDeposits(addr crypto.Address, deposits map[string]*big.Int) error {
	raw, err := json.Marshal(depositRecord{Address: addr.String(), Deposits: deposits})
	if err != nil {
		return fmt.Errorf("collateral module: encode deposits: %w", err)
	}
	return m.db.Put([]byte(depositKeyPrefix+addr.String()), raw)
}

func (m *Module) valueOf(deposits map[string]*big.Int) (*big.Int, error) {
	if m.pricer == nil {
		return nil, ErrNilPricer
	}
	tokens := make([]string, 0, len(deposits))
	for token := range deposits {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	total := big.NewInt(0)
	for _, token := range tokens {
		amount := deposits[token]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		value, err := m.pricer.Value(token, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// CollateralValue returns the authoritative aggregate collateral value for
// the participant in the common unit.
func (m *Module) CollateralValue(addr crypto.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deposits, err := m.loadDeposits(addr)
	if err != nil {
		return nil, err
	}
	return m.valueOf(deposits)
}

// Deposit locks collateral for the participant. The tokens move into the
// collateral treasury before the bookkeeping is updated; a failed transfer
// leaves no trace.
func (m *Module) Deposit(addr crypto.Address, token string, amount *big.Int) error {
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if m.vault == nil {
		return ErrNilVault
	}
	token = normaliseToken(token)

	m.mu.Lock()
	deposits, err := m.loadDeposits(addr)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.vault.TransferIn(token, addr, amount); err != nil {
		m.mu.Unlock()
		return err
	}
	current := deposits[token]
	if current == nil {
		current = big.NewInt(0)
	}
	deposits[token] = new(big.Int).Add(current, amount)
	err = m.putDeposits(addr, deposits)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.refresh(addr)
}

// Withdraw releases collateral back to the participant while ensuring the
// remaining collateral still covers the outstanding debt at the minimum
// ratio.
func (m *Module) Withdraw(addr crypto.Address, token string, amount *big.Int) error {
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if m.vault == nil {
		return ErrNilVault
	}
	token = normaliseToken(token)

	m.mu.Lock()
	deposits, err := m.loadDeposits(addr)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	current := deposits[token]
	if current == nil || current.Cmp(amount) < 0 {
		m.mu.Unlock()
		return ErrInsufficientDeposit
	}

	remaining := make(map[string]*big.Int, len(deposits))
	for tok, amt := range deposits {
		remaining[tok] = new(big.Int).Set(amt)
	}
	remaining[token] = new(big.Int).Sub(current, amount)

	if m.risk != nil {
		remainingValue, err := m.valueOf(remaining)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		debtValue, err := m.risk.DebtValue(addr)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if remainingValue.Cmp(m.risk.MinimumCollateral(debtValue)) < 0 {
			m.mu.Unlock()
			return ErrHealthCheckFailed
		}
	}

	if err := m.vault.TransferOut(token, addr, amount); err != nil {
		m.mu.Unlock()
		return err
	}
	err = m.putDeposits(addr, remaining)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.refresh(addr)
}

// Deposits returns a snapshot of the participant's deposited amounts.
func (m *Module) Deposits(addr crypto.Address) (map[string]*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deposits, err := m.loadDeposits(addr)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]*big.Int, len(deposits))
	for token, amount := range deposits {
		snapshot[token] = new(big.Int).Set(amount)
	}
	return snapshot, nil
}

func (m *Module) refresh(addr crypto.Address) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.RefreshCollateral(addr)
}
