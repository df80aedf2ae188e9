package bank

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"lendvault/crypto"
	"lendvault/storage"
)

var (
	// ErrInvalidAmount rejects zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("bank: amount must be positive")
	// ErrInsufficientBalance rejects transfers exceeding the sender's
	// balance. The transfer fails atomically; no partial movement occurs.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
)

const balanceKeyPrefix = "bank/balance/"

// Ledger tracks per-account token balances in a key-value store. It is the
// token transfer facility consumed by the lending and collateral modules.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger wraps the provided database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(token string, addr crypto.Address) []byte {
	return []byte(balanceKeyPrefix + token + "/" + addr.String())
}

func normaliseToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func (l *Ledger) balance(token string, addr crypto.Address) (*big.Int, error) {
	raw, err := l.db.Get(balanceKey(token, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := json.Unmarshal(raw, amount); err != nil {
		return nil, fmt.Errorf("bank: decode balance: %w", err)
	}
	return amount, nil
}

func (l *Ledger) putBalance(token string, addr crypto.Address, amount *big.Int) error {
	raw, err := json.Marshal(amount)
	if err != nil {
		return err
	}
	return l.db.Put(balanceKey(token, addr), raw)
}

// Balance returns the current balance, zero for unknown accounts.
func (l *Ledger) Balance(token string, addr crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(normaliseToken(token), addr)
}

// Mint credits freshly issued tokens to the account. It exists for genesis
// funding and for test fixtures.
func (l *Ledger) Mint(token string, addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token = normaliseToken(token)
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.balance(token, addr)
	if err != nil {
		return err
	}
	return l.putBalance(token, addr, new(big.Int).Add(current, amount))
}

// Transfer moves tokens between two accounts, failing atomically when the
// sender's balance is insufficient.
func (l *Ledger) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token = normaliseToken(token)
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance, err := l.balance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.balance(token, to)
	if err != nil {
		return err
	}
	if err := l.putBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.putBalance(token, to, new(big.Int).Add(toBalance, amount))
}

// PoolVault binds the ledger to a protocol treasury address, exposing the
// in/out transfer pair that the lending and collateral modules consume.
type PoolVault struct {
	ledger *Ledger
	pool   crypto.Address
}

// NewPoolVault constructs a vault whose outbound transfers draw from the
// supplied treasury address.
func NewPoolVault(ledger *Ledger, pool crypto.Address) *PoolVault {
	return &PoolVault{ledger: ledger, pool: pool}
}

// Pool returns the treasury address backing the vault.
func (v *PoolVault) Pool() crypto.Address { return v.pool }

// TransferOut moves tokens from the treasury to the recipient.
func (v *PoolVault) TransferOut(token string, to crypto.Address, amount *big.Int) error {
	return v.ledger.Transfer(token, v.pool, to, amount)
}

// TransferIn moves tokens from the sender into the treasury.
func (v *PoolVault) TransferIn(token string, from crypto.Address, amount *big.Int) error {
	return v.ledger.Transfer(token, from, v.pool, amount)
}
