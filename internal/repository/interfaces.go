package repository

import (
	"context"
	"errors"

	"github.com/baharkarakas/insider-ledger/internal/models"
)

// ErrCorruptRecord is returned by strict-mode loads when a stored row
// cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt record")

// Tx is full-collection access to the two stored collections. Saves replace
// the whole collection; callers load, modify a copy and save it back.
type Tx interface {
	LoadAccounts(ctx context.Context) ([]models.Account, error)
	LoadTransactions(ctx context.Context) ([]models.Transaction, error)
	SaveAccounts(ctx context.Context, accounts []models.Account) error
	SaveTransactions(ctx context.Context, txns []models.Transaction) error
}

// Store is a durable Tx. Direct saves are individually atomic; WithTx stages
// every save made through fn and commits them together, or not at all when
// fn returns an error.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}
