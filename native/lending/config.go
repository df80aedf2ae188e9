package lending

import "strings"

// ratioScale is the denominator for all basis-point ratios.
const ratioScale = 10_000

// Config captures the deployment-time constants of the lending module. The
// reference configuration uses 18-digit token amounts, 8-digit oracle
// prices, an 18-digit common unit, a 0.25% origination fee and a 150%
// minimum collateral ratio.
type Config struct {
	// FeeToken is the token in which origination fees are charged and the
	// fee pool is denominated.
	FeeToken string `toml:"FeeToken"`
	// NativeToken is the sentinel symbol that cannot be borrowed or repaid
	// through the lending paths.
	NativeToken string `toml:"NativeToken"`
	// FeeRateBps is the origination fee in basis points of borrowed value.
	FeeRateBps uint64 `toml:"FeeRateBps"`
	// MinCollateralRatioBps is the minimum collateral-to-debt ratio in
	// basis points enforced after every borrow.
	MinCollateralRatioBps uint64 `toml:"MinCollateralRatioBps"`
	// TokenDecimals is the fixed fractional precision of token amounts.
	TokenDecimals uint8 `toml:"TokenDecimals"`
	// PriceDecimals is the fixed fractional precision of oracle prices.
	PriceDecimals uint8 `toml:"PriceDecimals"`
	// CommonDecimals is the fixed fractional precision of the common unit
	// of account.
	CommonDecimals uint8 `toml:"CommonDecimals"`
}

// Normalise applies canonical casing to token symbols and fills in the
// reference defaults for unset fields. Numeric fields are left untouched so
// a zero fee rate remains a valid configuration.
func (c Config) Normalise() Config {
	cfg := c
	cfg.FeeToken = strings.ToUpper(strings.TrimSpace(cfg.FeeToken))
	cfg.NativeToken = strings.ToUpper(strings.TrimSpace(cfg.NativeToken))
	if cfg.FeeToken == "" {
		cfg.FeeToken = "LUSD"
	}
	if cfg.NativeToken == "" {
		cfg.NativeToken = "LVT"
	}
	return cfg
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		FeeToken:              "LUSD",
		NativeToken:           "LVT",
		FeeRateBps:            25,
		MinCollateralRatioBps: 15_000,
		TokenDecimals:         18,
		PriceDecimals:         8,
		CommonDecimals:        18,
	}
}
