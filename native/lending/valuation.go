package lending

import (
	"fmt"
	"math/big"

	"lendvault/native/oracle"
)

var bpsDenominator = big.NewInt(ratioScale)

// Valuator converts raw token amounts into the common unit of account and
// computes origination fees. All arithmetic is exact integer arithmetic
// with division last and rounding down, favouring the protocol; lending
// safety depends on the conversion being reproducible.
type Valuator struct {
	prices oracle.PriceSource
	// digitCorrection is 10^(tokenDecimals - (commonDecimals - priceDecimals)),
	// derived once at construction.
	digitCorrection *big.Int
	// priceCorrection is 10^priceDecimals, the scale of oracle prices.
	priceCorrection *big.Int
	feeRate         *big.Int
}

// NewValuator derives the digit-correction constants from the module
// configuration. The configuration is rejected when the correction exponent
// would be negative, since the conversion must stay in integer range.
func NewValuator(prices oracle.PriceSource, cfg Config) (*Valuator, error) {
	cfg = cfg.Normalise()
	if int(cfg.TokenDecimals)+int(cfg.PriceDecimals) < int(cfg.CommonDecimals) {
		return nil, fmt.Errorf("lending valuator: token decimals %d and price decimals %d cannot express common unit with %d decimals",
			cfg.TokenDecimals, cfg.PriceDecimals, cfg.CommonDecimals)
	}
	exponent := int64(cfg.TokenDecimals) - (int64(cfg.CommonDecimals) - int64(cfg.PriceDecimals))
	return &Valuator{
		prices:          prices,
		digitCorrection: pow10(exponent),
		priceCorrection: pow10(int64(cfg.PriceDecimals)),
		feeRate:         new(big.Int).SetUint64(cfg.FeeRateBps),
	}, nil
}

func pow10(exp int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
}

// Price looks up the oracle price for the token. A lookup error or a
// non-positive price yields ErrNoPriceAvailable so the calling operation
// aborts instead of valuing the token at zero.
func (v *Valuator) Price(token string) (*big.Int, error) {
	if v == nil || v.prices == nil {
		return nil, ErrNilPriceSource
	}
	price, err := v.prices.GetPrice(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoPriceAvailable, token, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPriceAvailable, token)
	}
	return price, nil
}

// Value converts an amount in the token's native precision into the common
// unit: amount * price / digitCorrection, rounded down.
func (v *Valuator) Value(token string, amount *big.Int) (*big.Int, error) {
	price, err := v.Price(token)
	if err != nil {
		return nil, err
	}
	return v.valueAt(price, amount), nil
}

func (v *Valuator) valueAt(price, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, v.digitCorrection)
}

// Fee computes the origination fee in the fee token's native unit:
// amount * price * feeRate / 10000 / priceCorrection. All numerators are
// multiplied before any division to minimise rounding loss; the divisions
// run in that fixed order so the fee charged at the unit boundary is
// reproducible.
func (v *Valuator) Fee(token string, amount *big.Int) (*big.Int, error) {
	price, err := v.Price(token)
	if err != nil {
		return nil, err
	}
	return v.feeAt(price, amount), nil
}

func (v *Valuator) feeAt(price, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || v.feeRate.Sign() == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, price)
	fee.Mul(fee, v.feeRate)
	fee.Quo(fee, bpsDenominator)
	fee.Quo(fee, v.priceCorrection)
	return fee
}
