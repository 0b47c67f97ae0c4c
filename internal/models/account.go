package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Account is a named balance holder. Username is the identity and never
// changes after creation.
type Account struct {
	Username   string          `json:"username"`
	Credential string          `json:"-"`
	Balance    decimal.Decimal `json:"balance"`
}

func (a *Account) Validate() error {
	if strings.TrimSpace(a.Username) == "" {
		return errors.New("username required")
	}
	if a.Balance.IsNegative() {
		return errors.New("balance must be >= 0")
	}
	return nil
}

// Stats aggregates balances over every account plus the ledger size.
type Stats struct {
	Accounts         int             `json:"accounts"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	AverageBalance   decimal.Decimal `json:"average_balance"`
	MaxBalance       decimal.Decimal `json:"max_balance"`
	MinBalance       decimal.Decimal `json:"min_balance"`
	TransactionCount int             `json:"transaction_count"`
}
