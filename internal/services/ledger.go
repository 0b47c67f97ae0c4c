package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

// Ledger is the append-only transaction history. Records are never edited
// or removed.
type Ledger struct {
	tx  repository.Tx
	now func() time.Time

	appended int
}

func NewLedger(tx repository.Tx, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{tx: tx, now: now}
}

func (l *Ledger) Append(ctx context.Context, username string, kind models.TransactionKind, amount, balance decimal.Decimal, details string) (models.Transaction, error) {
	txns, err := l.tx.LoadTransactions(ctx)
	if err != nil {
		return models.Transaction{}, err
	}
	rec := models.Transaction{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: l.now().Truncate(time.Second),
		Kind:      kind,
		Amount:    amount,
		Balance:   balance,
		Details:   details,
	}
	if err := l.tx.SaveTransactions(ctx, append(txns, rec)); err != nil {
		return models.Transaction{}, err
	}
	l.appended++
	return rec, nil
}

func (l *Ledger) AllRecords(ctx context.Context) ([]models.Transaction, error) {
	return l.tx.LoadTransactions(ctx)
}

func (l *Ledger) AllForUser(ctx context.Context, username string) ([]models.Transaction, error) {
	txns, err := l.tx.LoadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	return forUser(txns, username), nil
}

// Replay folds username's history from zero.
func (l *Ledger) Replay(ctx context.Context, username string) (decimal.Decimal, error) {
	txns, err := l.AllForUser(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	return Replay(txns), nil
}

// Replay sums the signed deltas of records in order.
func Replay(records []models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Delta())
	}
	return total
}

func forUser(txns []models.Transaction, username string) []models.Transaction {
	var out []models.Transaction
	for _, t := range txns {
		if t.Username == username {
			out = append(out, t)
		}
	}
	return out
}
