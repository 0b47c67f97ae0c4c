package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

// querier is the part of pgxpool.Pool and pgx.Tx the collections need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool   *pgxpool.Pool
	strict bool
	log    *slog.Logger
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, strict bool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, strict: strict, log: log.With("component", "pgstore")}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) tables(q querier) *tables { return &tables{q: q, strict: s.strict, log: s.log} }

func (s *Store) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	return s.tables(s.pool).LoadAccounts(ctx)
}

func (s *Store) LoadTransactions(ctx context.Context) ([]models.Transaction, error) {
	return s.tables(s.pool).LoadTransactions(ctx)
}

func (s *Store) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.tables(tx).SaveAccounts(ctx, accounts)
	})
}

func (s *Store) SaveTransactions(ctx context.Context, txns []models.Transaction) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.tables(tx).SaveTransactions(ctx, txns)
	})
}

// WithTx runs fn inside one serializable transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(s.tables(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// tables implements repository.Tx over a pool or an open transaction.
type tables struct {
	q      querier
	strict bool
	log    *slog.Logger
}

func (t *tables) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := t.q.Query(ctx, `SELECT username, credential, balance::text FROM accounts ORDER BY pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		var bal string
		if err := rows.Scan(&a.Username, &a.Credential, &bal); err != nil {
			return nil, err
		}
		if a.Balance, err = decimal.NewFromString(bal); err != nil {
			if cerr := t.corrupt("accounts", a.Username, err); cerr != nil {
				return nil, cerr
			}
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tables) LoadTransactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := t.q.Query(ctx,
		`SELECT id, username, created_at, kind, amount::text, balance::text, details
		   FROM transactions
		  ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var kind, amount, bal string
		if err := rows.Scan(&tx.ID, &tx.Username, &tx.CreatedAt, &kind, &amount, &bal, &tx.Details); err != nil {
			return nil, err
		}
		tx.Kind = models.TransactionKind(kind)
		if !tx.Kind.Valid() {
			if cerr := t.corrupt("transactions", tx.ID, fmt.Errorf("unknown kind %q", kind)); cerr != nil {
				return nil, cerr
			}
			continue
		}
		if tx.Amount, err = decimal.NewFromString(amount); err == nil {
			tx.Balance, err = decimal.NewFromString(bal)
		}
		if err != nil {
			if cerr := t.corrupt("transactions", tx.ID, err); cerr != nil {
				return nil, cerr
			}
			continue
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (t *tables) corrupt(table, key string, err error) error {
	if t.strict {
		return fmt.Errorf("%w: %s %q: %v", repository.ErrCorruptRecord, table, key, err)
	}
	t.log.Warn("skipping malformed row", "table", table, "key", key, "err", err)
	return nil
}

// SaveAccounts replaces the table; callers hold a transaction so readers
// never see it half written.
func (t *tables) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM accounts`); err != nil {
		return err
	}
	b := &pgx.Batch{}
	for i, a := range accounts {
		b.Queue(`INSERT INTO accounts(pos, username, credential, balance) VALUES($1,$2,$3,$4::numeric)`,
			i, a.Username, a.Credential, a.Balance.StringFixed(2))
	}
	return t.send(ctx, b)
}

func (t *tables) SaveTransactions(ctx context.Context, txns []models.Transaction) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM transactions`); err != nil {
		return err
	}
	b := &pgx.Batch{}
	for i, tx := range txns {
		b.Queue(`INSERT INTO transactions(seq, id, username, created_at, kind, amount, balance, details)
		         VALUES($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8)`,
			i, tx.ID, tx.Username, tx.CreatedAt, string(tx.Kind),
			tx.Amount.StringFixed(2), tx.Balance.StringFixed(2), tx.Details)
	}
	return t.send(ctx, b)
}

func (t *tables) send(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := t.q.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}
