package lending

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"lendvault/core/events"
	"lendvault/crypto"
	nativecommon "lendvault/native/common"
	"lendvault/native/oracle"
)

const moduleName = "lending"

// CollateralSource is the external collateral module. It owns deposit and
// withdrawal of collateral assets; the engine only reads the authoritative
// aggregate value and caches it on the position.
type CollateralSource interface {
	CollateralValue(addr crypto.Address) (*big.Int, error)
}

// TokenVault moves tokens between the protocol liquidity pool and
// participants. Both directions fail atomically when the underlying
// balance is insufficient.
type TokenVault interface {
	TransferOut(token string, to crypto.Address, amount *big.Int) error
	TransferIn(token string, from crypto.Address, amount *big.Int) error
}

// Engine orchestrates the primary state transitions for the lending
// module: borrow with origination fee and ratio guard, and repay.
type Engine struct {
	cfg        Config
	state      State
	valuator   *Valuator
	collateral CollateralSource
	vault      TokenVault
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	guard      accountGuard
	// feeMu serializes fee pool read-modify-write cycles, which otherwise
	// race between borrows of unrelated accounts.
	feeMu sync.Mutex
	now   func() time.Time
}

// NewEngine constructs a lending engine with the supplied module
// configuration. Collaborators are wired through the Set methods before
// first use.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg.Normalise(),
		emitter: events.NoopEmitter{},
		now:     time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetPriceSource wires the oracle and derives the valuation constants from
// the engine configuration.
func (e *Engine) SetPriceSource(prices oracle.PriceSource) error {
	valuator, err := NewValuator(prices, e.cfg)
	if err != nil {
		return err
	}
	e.valuator = valuator
	return nil
}

// SetCollateral wires the external collateral module.
func (e *Engine) SetCollateral(src CollateralSource) { e.collateral = src }

// SetVault wires the token transfer facility.
func (e *Engine) SetVault(vault TokenVault) { e.vault = vault }

// SetEmitter wires the event sink. A nil emitter restores the discarding
// default.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetClock overrides the timestamp source used for emitted events.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Valuator exposes the derived valuation module so sibling modules (the
// collateral vault) can value assets with identical digit correction.
func (e *Engine) Valuator() *Valuator { return e.valuator }

// FeeToken returns the configured fee token symbol.
func (e *Engine) FeeToken() string { return e.cfg.FeeToken }

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return ErrNilState
	case e.valuator == nil:
		return ErrNilPriceSource
	case e.collateral == nil:
		return ErrNilCollateral
	case e.vault == nil:
		return ErrNilVault
	}
	return nil
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Address: addr}
	}
	if pos.CollateralValue == nil {
		pos.CollateralValue = big.NewInt(0)
	}
	if pos.DebtValue == nil {
		pos.DebtValue = big.NewInt(0)
	}
	return pos, nil
}

func accountKey(addr crypto.Address) string {
	return string(addr.Prefix()) + "/" + string(addr.Bytes())
}

// Borrow transfers tokens from the liquidity pool to the borrower while
// charging the origination fee and enforcing the minimum collateral ratio.
// The fee that was charged is returned. Nothing is persisted unless every
// check and the outbound transfer succeed.
func (e *Engine) Borrow(borrower crypto.Address, token string, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	token = normaliseToken(token)
	if token == "" || token == e.cfg.NativeToken {
		return nil, ErrUnsupportedToken
	}

	key := accountKey(borrower)
	if err := e.guard.enter(key); err != nil {
		return nil, err
	}
	defer e.guard.exit(key)

	pos, err := e.ensurePosition(borrower)
	if err != nil {
		return nil, err
	}
	// Cheap pre-check on the cached value; the authoritative ratio check
	// below uses a fresh collateral valuation.
	if pos.CollateralValue.Sign() == 0 {
		return nil, ErrNoCollateral
	}

	price, err := e.valuator.Price(token)
	if err != nil {
		return nil, err
	}
	fee := e.valuator.feeAt(price, amount)

	d := newDraft(pos.Clone())
	if fee.Sign() > 0 {
		if err := d.recordDebt(e.cfg.FeeToken, fee); err != nil {
			return nil, err
		}
	}
	if err := d.recordDebt(token, amount); err != nil {
		return nil, err
	}

	debtValue, err := d.aggregateDebtValue(e.valuator)
	if err != nil {
		return nil, err
	}
	collateralValue, err := e.collateral.CollateralValue(borrower)
	if err != nil {
		return nil, err
	}
	if collateralValue == nil {
		collateralValue = big.NewInt(0)
	}

	minCollateral := new(big.Int).Mul(debtValue, new(big.Int).SetUint64(e.cfg.MinCollateralRatioBps))
	minCollateral.Quo(minCollateral, bpsDenominator)
	if collateralValue.Cmp(minCollateral) < 0 {
		return nil, ErrInsufficientCollateral
	}

	d.pos.CollateralValue = new(big.Int).Set(collateralValue)
	d.pos.DebtValue = debtValue

	if err := e.vault.TransferOut(token, borrower, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := e.commit(d, fee); err != nil {
		return nil, err
	}

	ts := e.now()
	if fee.Sign() > 0 {
		e.emitter.Emit(events.LendingFeeCollected{
			FeeToken:  e.cfg.FeeToken,
			Borrower:  borrower,
			Fee:       new(big.Int).Set(fee),
			Timestamp: ts,
		})
	}
	e.emitter.Emit(events.LendingBorrowed{
		Token:     token,
		Borrower:  borrower,
		Amount:    new(big.Int).Set(amount),
		Timestamp: ts,
	})
	return fee, nil
}

// Repay transfers tokens from the borrower back into the liquidity pool
// and reduces their outstanding debt. No fee is charged and no ratio check
// is performed; repaying can only improve the ratio.
func (e *Engine) Repay(borrower crypto.Address, token string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token = normaliseToken(token)
	if token == "" || token == e.cfg.NativeToken {
		return ErrUnsupportedToken
	}

	key := accountKey(borrower)
	if err := e.guard.enter(key); err != nil {
		return err
	}
	defer e.guard.exit(key)

	pos, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}

	d := newDraft(pos.Clone())
	if err := d.reduceDebt(token, amount); err != nil {
		return err
	}

	debtValue, err := d.aggregateDebtValue(e.valuator)
	if err != nil {
		return err
	}
	collateralValue, err := e.collateral.CollateralValue(borrower)
	if err != nil {
		return err
	}
	if collateralValue == nil {
		collateralValue = big.NewInt(0)
	}
	d.pos.CollateralValue = new(big.Int).Set(collateralValue)
	d.pos.DebtValue = debtValue

	if err := e.vault.TransferIn(token, borrower, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := e.commit(d, nil); err != nil {
		return err
	}

	e.emitter.Emit(events.LendingRepaid{
		Token:     token,
		Borrower:  borrower,
		Amount:    new(big.Int).Set(amount),
		Timestamp: e.now(),
	})
	return nil
}

// RefreshCollateral re-reads the authoritative collateral value and
// persists it on the cached position. The collateral module calls this
// after deposits and withdrawals so the cheap pre-check in Borrow stays
// honest. When another operation on the account is already in flight the
// refresh is skipped rather than rejected: the caller's mutation has
// already committed and must not report failure, and the cache only gates
// the pre-check while every ratio check reads the authoritative value.
func (e *Engine) RefreshCollateral(addr crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.collateral == nil {
		return ErrNilCollateral
	}
	key := accountKey(addr)
	if err := e.guard.enter(key); err != nil {
		return nil
	}
	defer e.guard.exit(key)

	pos, err := e.ensurePosition(addr)
	if err != nil {
		return err
	}
	value, err := e.collateral.CollateralValue(addr)
	if err != nil {
		return err
	}
	if value == nil {
		value = big.NewInt(0)
	}
	pos.CollateralValue = new(big.Int).Set(value)
	return e.state.Apply(pos, nil, nil)
}

// commit persists the staged position, the transposed token-debt rows and,
// when a fee was charged, the credited fee pool in one atomic write. The
// fee pool read-modify-write runs under feeMu because borrows on unrelated
// accounts share that row.
func (e *Engine) commit(d *draft, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return e.state.Apply(d.pos, d.touched, nil)
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	pool, err := e.state.GetFeePool()
	if err != nil {
		return err
	}
	return e.state.Apply(d.pos, d.touched, new(big.Int).Add(pool, fee))
}

// WithdrawFees transfers accrued origination fees from the liquidity pool
// to the recipient. The pool can never go negative; over-withdrawal fails
// with ErrUnderflow and leaves the pool untouched.
func (e *Engine) WithdrawFees(recipient crypto.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	pool, err := e.state.GetFeePool()
	if err != nil {
		return nil, err
	}
	if pool.Cmp(amount) < 0 {
		return nil, ErrUnderflow
	}
	if err := e.vault.TransferOut(e.cfg.FeeToken, recipient, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.Apply(nil, nil, new(big.Int).Sub(pool, amount)); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// Position returns a snapshot of the participant's lending position. A
// never-seen account reads as the zero position.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// DebtValue returns the cached aggregate debt value for the account in the
// common unit. The collateral module consults it when gating withdrawals.
func (e *Engine) DebtValue(addr crypto.Address) (*big.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return pos.DebtValue, nil
}

// TokenDebt reads the transposed per-token debt view for one account.
func (e *Engine) TokenDebt(token string, addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	outstanding, err := e.state.GetTokenDebt(normaliseToken(token), addr)
	if err != nil {
		return nil, err
	}
	if outstanding == nil {
		return big.NewInt(0), nil
	}
	return outstanding, nil
}

// FeePool returns the cumulative origination fee revenue in the fee
// token's native unit.
func (e *Engine) FeePool() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.GetFeePool()
}

// MinimumCollateral computes the collateral value required to carry the
// supplied debt value: debtValue * minRatio / ratioScale, multiplication
// before division.
func (e *Engine) MinimumCollateral(debtValue *big.Int) *big.Int {
	if debtValue == nil || debtValue.Sign() <= 0 {
		return big.NewInt(0)
	}
	min := new(big.Int).Mul(debtValue, new(big.Int).SetUint64(e.cfg.MinCollateralRatioBps))
	return min.Quo(min, bpsDenominator)
}
