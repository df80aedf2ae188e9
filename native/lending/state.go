package lending

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"lendvault/crypto"
	"lendvault/storage"
)

// State is the persistence boundary of the lending engine. GetPosition and
// GetTokenDebt return nil (not an error) when no record exists; accounts
// are created implicitly on first interaction.
//
// Apply persists the outcome of one operation: the position row, the
// transposed token-debt rows for the position's account, and, when
// non-nil, the fee pool. Implementations must land all rows atomically so
// the two debt views can never diverge in durable storage.
type State interface {
	GetPosition(addr crypto.Address) (*Position, error)
	// GetTokenDebt reads the transposed per-token view of the same
	// balances recorded on positions.
	GetTokenDebt(token string, addr crypto.Address) (*big.Int, error)
	GetFeePool() (*big.Int, error)
	Apply(pos *Position, debts map[string]*big.Int, feePool *big.Int) error
}

const (
	positionKeyPrefix  = "lending/position/"
	tokenDebtKeyPrefix = "lending/debt/"
	feePoolKey         = "lending/feepool"
)

// LedgerStore persists lending state as JSON rows in a generic key-value
// database. It backs deployments with LevelDB and tests with MemDB.
type LedgerStore struct {
	db storage.Database
}

// NewLedgerStore wraps the provided database.
func NewLedgerStore(db storage.Database) *LedgerStore {
	return &LedgerStore{db: db}
}

type positionRecord struct {
	Address            string              `json:"address"`
	CollateralValue    *big.Int            `json:"collateralValue"`
	DebtValue          *big.Int            `json:"debtValue"`
	DebtByToken        map[string]*big.Int `json:"debtByToken,omitempty"`
	EnrolledDebtTokens []string            `json:"enrolledDebtTokens,omitempty"`
}

func (s *LedgerStore) GetPosition(addr crypto.Address) (*Position, error) {
	raw, err := s.db.Get([]byte(positionKeyPrefix + addr.String()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record positionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("ledger store: decode position: %w", err)
	}
	decoded, err := crypto.DecodeAddress(record.Address)
	if err != nil {
		return nil, fmt.Errorf("ledger store: decode position address: %w", err)
	}
	return &Position{
		Address:            decoded,
		CollateralValue:    record.CollateralValue,
		DebtValue:          record.DebtValue,
		DebtByToken:        record.DebtByToken,
		EnrolledDebtTokens: record.EnrolledDebtTokens,
	}, nil
}

func tokenDebtKey(token string, addr crypto.Address) []byte {
	return []byte(tokenDebtKeyPrefix + token + "/" + addr.String())
}

func (s *LedgerStore) GetTokenDebt(token string, addr crypto.Address) (*big.Int, error) {
	raw, err := s.db.Get(tokenDebtKey(token, addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if err := amount.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("ledger store: decode token debt: %w", err)
	}
	return amount, nil
}

func (s *LedgerStore) GetFeePool() (*big.Int, error) {
	raw, err := s.db.Get([]byte(feePoolKey))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	pool := new(big.Int)
	if err := pool.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("ledger store: decode fee pool: %w", err)
	}
	return pool, nil
}

// Apply stages every row into one batch and writes it through the
// database's atomic batch write.
func (s *LedgerStore) Apply(pos *Position, debts map[string]*big.Int, feePool *big.Int) error {
	batch := new(storage.Batch)
	if pos != nil {
		record := positionRecord{
			Address:            pos.Address.String(),
			CollateralValue:    pos.CollateralValue,
			DebtValue:          pos.DebtValue,
			DebtByToken:        pos.DebtByToken,
			EnrolledDebtTokens: pos.EnrolledDebtTokens,
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("ledger store: encode position: %w", err)
		}
		batch.Put([]byte(positionKeyPrefix+pos.Address.String()), raw)
		for token, outstanding := range debts {
			if outstanding == nil {
				outstanding = big.NewInt(0)
			}
			raw, err := outstanding.MarshalJSON()
			if err != nil {
				return err
			}
			batch.Put(tokenDebtKey(token, pos.Address), raw)
		}
	}
	if feePool != nil {
		raw, err := feePool.MarshalJSON()
		if err != nil {
			return err
		}
		batch.Put([]byte(feePoolKey), raw)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch)
}
