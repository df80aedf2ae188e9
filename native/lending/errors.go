package lending

import "errors"

var (
	// ErrNilState signals that the engine was used before its persistence
	// layer was wired.
	ErrNilState = errors.New("lending engine: state not configured")
	// ErrNilPriceSource signals that no oracle was wired into the engine.
	ErrNilPriceSource = errors.New("lending engine: price source not configured")
	// ErrNilCollateral signals that no collateral module was wired.
	ErrNilCollateral = errors.New("lending engine: collateral source not configured")
	// ErrNilVault signals that no token transfer facility was wired.
	ErrNilVault = errors.New("lending engine: token vault not configured")

	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrUnsupportedToken rejects the native-token sentinel; native value is
	// managed exclusively by the collateral module.
	ErrUnsupportedToken = errors.New("lending engine: token not borrowable")
	// ErrNoCollateral rejects borrows from accounts with no established
	// collateral value.
	ErrNoCollateral = errors.New("lending engine: no collateral deposited")
	// ErrNoPriceAvailable signals that the oracle returned a non-positive
	// price. The whole operation aborts; a token is never treated as
	// worthless.
	ErrNoPriceAvailable = errors.New("lending engine: no price available")
	// ErrInsufficientCollateral rejects borrows that would leave the account
	// below the minimum collateral ratio.
	ErrInsufficientCollateral = errors.New("lending engine: collateral below minimum ratio")
	// ErrInsufficientDebt rejects repayments exceeding the outstanding
	// balance; over-repayment is never clamped.
	ErrInsufficientDebt = errors.New("lending engine: repayment exceeds outstanding debt")
	// ErrOverflow signals that a balance would exceed the 256-bit range.
	ErrOverflow = errors.New("lending engine: amount overflows 256-bit range")
	// ErrUnderflow signals that a balance would go negative.
	ErrUnderflow = errors.New("lending engine: amount underflows balance")
	// ErrTransferFailed wraps rejections from the token transfer facility.
	ErrTransferFailed = errors.New("lending engine: token transfer failed")
	// ErrAccountBusy rejects a call that arrives while another operation on
	// the same account is still in flight (reentrancy included).
	ErrAccountBusy = errors.New("lending engine: account operation in progress")
)
