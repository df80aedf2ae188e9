package collateral

import (
	"errors"
	"math/big"
	"testing"

	"lendvault/crypto"
	nativecommon "lendvault/native/common"
	"lendvault/storage"
)

// flatPricer values every token at face value.
type flatPricer struct{}

func (flatPricer) Value(_ string, amount *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amount), nil
}

type recordingVault struct {
	ins     int
	outs    int
	failIn  error
	failOut error
}

func (v *recordingVault) TransferIn(string, crypto.Address, *big.Int) error {
	if v.failIn != nil {
		return v.failIn
	}
	v.ins++
	return nil
}

func (v *recordingVault) TransferOut(string, crypto.Address, *big.Int) error {
	if v.failOut != nil {
		return v.failOut
	}
	v.outs++
	return nil
}

type staticRisk struct {
	debtValue *big.Int
	minRatio  int64
}

func (r staticRisk) DebtValue(crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(r.debtValue), nil
}

func (r staticRisk) MinimumCollateral(debtValue *big.Int) *big.Int {
	min := new(big.Int).Mul(debtValue, big.NewInt(r.minRatio))
	return min.Quo(min, big.NewInt(10_000))
}

type countingCache struct {
	refreshed int
}

func (c *countingCache) RefreshCollateral(crypto.Address) error {
	c.refreshed++
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func newModuleFixture() (*Module, *recordingVault, *countingCache) {
	module := NewModule(storage.NewMemDB())
	module.SetPricer(flatPricer{})
	vault := &recordingVault{}
	module.SetVault(vault)
	cache := &countingCache{}
	module.SetCache(cache)
	return module, vault, cache
}

func TestDepositUpdatesBookkeeping(t *testing.T) {
	module, vault, cache := newModuleFixture()
	addr := makeAddress(0x01)

	if err := module.Deposit(addr, "atom", big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := module.Deposit(addr, "ATOM", big.NewInt(250)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	deposits, err := module.Deposits(addr)
	if err != nil {
		t.Fatalf("deposits: %v", err)
	}
	if deposits["ATOM"].Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected deposit balance: %v", deposits)
	}
	value, err := module.CollateralValue(addr)
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}
	if value.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected collateral value: %s", value)
	}
	if vault.ins != 2 {
		t.Fatalf("expected 2 inbound transfers, got %d", vault.ins)
	}
	if cache.refreshed != 2 {
		t.Fatalf("expected 2 cache refreshes, got %d", cache.refreshed)
	}
}

func TestDepositFailedTransferLeavesNoTrace(t *testing.T) {
	module, vault, cache := newModuleFixture()
	addr := makeAddress(0x02)
	vault.failIn = errors.New("insufficient funds")

	if err := module.Deposit(addr, "ATOM", big.NewInt(500)); err == nil {
		t.Fatalf("expected deposit failure")
	}
	deposits, err := module.Deposits(addr)
	if err != nil {
		t.Fatalf("deposits: %v", err)
	}
	if len(deposits) != 0 {
		t.Fatalf("failed deposit recorded: %v", deposits)
	}
	if cache.refreshed != 0 {
		t.Fatalf("failed deposit refreshed cache")
	}
}

func TestWithdrawExceedingDepositRejected(t *testing.T) {
	module, _, _ := newModuleFixture()
	addr := makeAddress(0x03)

	if err := module.Deposit(addr, "ATOM", big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := module.Withdraw(addr, "ATOM", big.NewInt(150)); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
}

func TestWithdrawHealthCheck(t *testing.T) {
	module, vault, _ := newModuleFixture()
	// Debt value 400 at a 150% minimum requires 600 of collateral.
	module.SetRiskView(staticRisk{debtValue: big.NewInt(400), minRatio: 15_000})
	addr := makeAddress(0x04)

	if err := module.Deposit(addr, "ATOM", big.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 1000 - 500 = 500 < 600.
	if err := module.Withdraw(addr, "ATOM", big.NewInt(500)); !errors.Is(err, ErrHealthCheckFailed) {
		t.Fatalf("expected ErrHealthCheckFailed, got %v", err)
	}
	deposits, _ := module.Deposits(addr)
	if deposits["ATOM"].Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("rejected withdrawal mutated deposits: %v", deposits)
	}
	if vault.outs != 0 {
		t.Fatalf("rejected withdrawal moved tokens")
	}

	// 1000 - 400 = 600 meets the minimum exactly.
	if err := module.Withdraw(addr, "ATOM", big.NewInt(400)); err != nil {
		t.Fatalf("withdraw at boundary: %v", err)
	}
	deposits, _ = module.Deposits(addr)
	if deposits["ATOM"].Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected remaining deposit: %v", deposits)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	module, _, _ := newModuleFixture()
	module.SetPauses(nativecommon.Pauses{"collateral": true})
	addr := makeAddress(0x05)

	if err := module.Deposit(addr, "ATOM", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := module.Withdraw(addr, "ATOM", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
