package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

// AccountRegistry enforces username uniqueness and gives balance access over
// the stored account collection. It keeps no state of its own: every call
// loads from and saves back to its Tx.
type AccountRegistry struct{ tx repository.Tx }

func NewAccountRegistry(tx repository.Tx) *AccountRegistry { return &AccountRegistry{tx: tx} }

func (r *AccountRegistry) All(ctx context.Context) ([]models.Account, error) {
	return r.tx.LoadAccounts(ctx)
}

func (r *AccountRegistry) Get(ctx context.Context, username string) (models.Account, bool, error) {
	accounts, err := r.tx.LoadAccounts(ctx)
	if err != nil {
		return models.Account{}, false, err
	}
	for _, a := range accounts {
		if a.Username == username {
			return a, true, nil
		}
	}
	return models.Account{}, false, nil
}

func (r *AccountRegistry) Exists(ctx context.Context, username string) (bool, error) {
	_, ok, err := r.Get(ctx, username)
	return ok, err
}

func (r *AccountRegistry) Insert(ctx context.Context, a models.Account) error {
	if err := a.Validate(); err != nil {
		return ErrInvalidInput
	}
	accounts, err := r.tx.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	for _, existing := range accounts {
		if existing.Username == a.Username {
			return ErrDuplicateUsername
		}
	}
	return r.tx.SaveAccounts(ctx, append(accounts, a))
}

// SetBalance is a no-op for unknown usernames; callers check Exists first.
func (r *AccountRegistry) SetBalance(ctx context.Context, username string, balance decimal.Decimal) error {
	return r.update(ctx, username, func(a *models.Account) { a.Balance = balance })
}

func (r *AccountRegistry) SetCredential(ctx context.Context, username, credential string) error {
	return r.update(ctx, username, func(a *models.Account) { a.Credential = credential })
}

func (r *AccountRegistry) update(ctx context.Context, username string, fn func(*models.Account)) error {
	accounts, err := r.tx.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	for i := range accounts {
		if accounts[i].Username == username {
			fn(&accounts[i])
			return r.tx.SaveAccounts(ctx, accounts)
		}
	}
	return nil
}

// Search matches term as a case-insensitive substring of the username.
func (r *AccountRegistry) Search(ctx context.Context, term string) ([]models.Account, error) {
	accounts, err := r.tx.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	var out []models.Account
	for _, a := range accounts {
		if strings.Contains(strings.ToLower(a.Username), term) {
			out = append(out, a)
		}
	}
	return out, nil
}
