package vault

import "errors"

// Operation failures are sentinel errors so callers can branch on the violated
// precondition. Gateway failures are wrapped, never masked.
var (
	// Authorization
	ErrNotBorrower = errors.New("vault: caller is not the borrower")
	ErrNotBalancer = errors.New("vault: caller is not the balancer")
	ErrNotAdmin    = errors.New("vault: caller is not the admin")

	// State
	ErrFrozen           = errors.New("vault: frozen")
	ErrSettingsDisabled = errors.New("vault: settings are governance-controlled")
	ErrSettingsEnabled  = errors.New("vault: settings are borrower-controlled")
	ErrNotLiquidatable  = errors.New("vault: not liquidatable")
	ErrNotDefaulted     = errors.New("vault: not defaulted")

	// Validation
	ErrZeroAmount   = errors.New("vault: amount must be positive")
	ErrZeroAddress  = errors.New("vault: identity must not be the zero uuid")
	ErrNilAsset     = errors.New("vault: asset must not be nil")
	ErrInvalidToken = errors.New("vault: token must be pegged or reference")

	// Funds
	ErrNotEnoughBalance = errors.New("vault: not enough balance")
	ErrSpreadNotEnough  = errors.New("vault: balance cannot cover accrued spread")
	ErrNotEnoughAssets  = errors.New("vault: not enough assets to pay liquidator")

	// Risk
	ErrEquityRatioExceeded = errors.New("vault: projected equity ratio below minimum")
	ErrInvalidMinter       = errors.New("vault: not an approved minter")
)
