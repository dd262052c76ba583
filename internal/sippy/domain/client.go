package domain

import (
	"context"
	"errors"
)

// AccountInfo is the subset of the remote account state the billing flows need.
type AccountInfo struct {
	Balance           float64
	PreferredCurrency string
	Blocked           bool
}

// Result is the raw, loosely-typed response of a ledger money operation. The
// remote API does not commit to a single success field, so callers must run
// it through Classify before trusting it.
type Result map[string]any

// Client talks to the external billing ledger holding real customer balances.
type Client interface {
	GetAccountInfo(ctx context.Context, accountID int64) (*AccountInfo, error)
	AccountDebit(ctx context.Context, accountID int64, amount float64, currency string, note string) (Result, error)
	AccountCredit(ctx context.Context, accountID int64, amount float64, currency string, note string) (Result, error)
}

var (
	ErrMissingCredentials = errors.New("sippy_credentials_missing")
	ErrMissingAccount     = errors.New("sippy_account_missing")
	ErrFault              = errors.New("sippy_fault")
	ErrBadResponse        = errors.New("sippy_bad_response")
)
