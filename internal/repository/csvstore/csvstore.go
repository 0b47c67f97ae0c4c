// Package csvstore keeps accounts and transactions as two CSV files in one
// directory. Every save rewrites the whole file through a temp file and a
// rename; saves staged through WithTx are committed behind a journal so a
// crash between the two renames is rolled forward on the next Open.
//
// Rows a lenient load skipped are never dropped: a save writes them back
// verbatim at their original position.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

const (
	AccountsFile     = "users.csv"
	TransactionsFile = "transactions.csv"
	journalFile      = "commit.journal"
	tmpSuffix        = ".tmp"
)

var (
	accountsHeader     = []string{"username", "password", "balance"}
	transactionsHeader = []string{"username", "date", "type", "amount", "balance", "details", "id"}
)

type Options struct {
	Dir string
	// Strict fails a load on the first malformed row instead of skipping it.
	Strict bool
	Logger *slog.Logger
}

type Store struct {
	dir    string
	strict bool
	log    *slog.Logger

	// serializes writers; loads read whole renamed files and need no lock
	mu sync.Mutex
}

var _ repository.Store = (*Store)(nil)

// Open prepares dir, finishes or discards any interrupted commit and seeds
// missing collections with their header rows.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("csvstore: dir required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Store{dir: opts.Dir, strict: opts.Strict, log: log.With("component", "csvstore")}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvstore: create dir: %w", err)
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	for name, header := range map[string][]string{
		AccountsFile:     accountsHeader,
		TransactionsFile: transactionsHeader,
	} {
		p := s.path(name)
		if _, err := os.Stat(p); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("csvstore: stat %s: %w", name, err)
		}
		if err := writeAtomic(p, header, nil); err != nil {
			return nil, fmt.Errorf("csvstore: seed %s: %w", name, err)
		}
	}
	return s, nil
}

func (s *Store) Dir() string  { return s.dir }
func (s *Store) Close() error { return nil }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accounts, _, err := s.loadAccounts()
	return accounts, err
}

func (s *Store) loadAccounts() ([]models.Account, table, error) {
	var out []models.Account
	tbl, err := s.readTable(AccountsFile, accountsHeader, func(row map[string]string) error {
		a, err := decodeAccount(row)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, tbl, err
}

func decodeAccount(row map[string]string) (models.Account, error) {
	bal, err := decimal.NewFromString(row["balance"])
	if err != nil {
		return models.Account{}, fmt.Errorf("balance %q: %w", row["balance"], err)
	}
	return models.Account{
		Username:   row["username"],
		Credential: row["password"],
		Balance:    bal,
	}, nil
}

func (s *Store) LoadTransactions(ctx context.Context) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txns, _, err := s.loadTransactions()
	return txns, err
}

func (s *Store) loadTransactions() ([]models.Transaction, table, error) {
	var out []models.Transaction
	// id is optional so files written before the column existed still load
	tbl, err := s.readTable(TransactionsFile, transactionsHeader[:6], func(row map[string]string) error {
		tx, err := decodeTransaction(row)
		if err != nil {
			return err
		}
		out = append(out, tx)
		return nil
	})
	return out, tbl, err
}

func decodeTransaction(row map[string]string) (models.Transaction, error) {
	amount, err := decimal.NewFromString(row["amount"])
	if err != nil {
		return models.Transaction{}, fmt.Errorf("amount %q: %w", row["amount"], err)
	}
	bal, err := decimal.NewFromString(row["balance"])
	if err != nil {
		return models.Transaction{}, fmt.Errorf("balance %q: %w", row["balance"], err)
	}
	at, err := time.ParseInLocation(models.TimeLayout, row["date"], time.Local)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("date %q: %w", row["date"], err)
	}
	kind := models.TransactionKind(row["type"])
	if !kind.Valid() {
		return models.Transaction{}, fmt.Errorf("unknown type %q", row["type"])
	}
	return models.Transaction{
		ID:        row["id"],
		Username:  row["username"],
		CreatedAt: at,
		Kind:      kind,
		Amount:    amount,
		Balance:   bal,
		Details:   row["details"],
	}, nil
}

func (s *Store) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.accountRows(accounts)
	if err != nil {
		return err
	}
	return writeAtomic(s.path(AccountsFile), accountsHeader, rows)
}

func (s *Store) SaveTransactions(ctx context.Context, txns []models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.transactionRows(txns)
	if err != nil {
		return err
	}
	return writeAtomic(s.path(TransactionsFile), transactionsHeader, rows)
}

// accountRows encodes accounts and puts back the rows the current file holds
// but a load skipped. Callers hold s.mu.
func (s *Store) accountRows(accounts []models.Account) ([][]string, error) {
	_, tbl, err := s.loadAccounts()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{a.Username, a.Credential, a.Balance.StringFixed(2)})
	}
	return tbl.restore(AccountsFile, accountsHeader, rows)
}

// transactionRows is accountRows for the ledger file.
func (s *Store) transactionRows(txns []models.Transaction) ([][]string, error) {
	_, tbl, err := s.loadTransactions()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, []string{
			t.Username,
			t.CreatedAt.Format(models.TimeLayout),
			string(t.Kind),
			t.Amount.StringFixed(2),
			t.Balance.StringFixed(2),
			t.Details,
			t.ID,
		})
	}
	return tbl.restore(TransactionsFile, transactionsHeader, rows)
}

// skippedRow is a data row a lenient load left out, with the number of
// accepted rows that preceded it.
type skippedRow struct {
	after  int
	fields []string
}

// table is what a read learned about a file beyond its decoded rows.
type table struct {
	header  []string
	skipped []skippedRow
	// lines the csv reader could not split into fields
	unreadable []int
}

// restore interleaves the skipped rows back into rows at their original
// positions, translated to header's column order. Rows past the end of rows
// are appended.
func (t table) restore(name string, header []string, rows [][]string) ([][]string, error) {
	if len(t.unreadable) > 0 {
		return nil, fmt.Errorf("%w: %s line %d cannot be split into fields and would be lost on rewrite",
			repository.ErrCorruptRecord, name, t.unreadable[0])
	}
	if len(t.skipped) == 0 {
		return rows, nil
	}

	out := make([][]string, 0, len(rows)+len(t.skipped))
	next := 0
	for i, row := range rows {
		for next < len(t.skipped) && t.skipped[next].after <= i {
			out = append(out, t.realign(header, t.skipped[next].fields))
			next++
		}
		out = append(out, row)
	}
	for ; next < len(t.skipped); next++ {
		out = append(out, t.realign(header, t.skipped[next].fields))
	}
	return out, nil
}

func (t table) realign(header, fields []string) []string {
	if slices.Equal(t.header, header) {
		return fields
	}
	idx := make(map[string]int, len(t.header))
	for i, h := range t.header {
		idx[h] = i
	}
	out := make([]string, len(header))
	for j, col := range header {
		if i, ok := idx[col]; ok && i < len(fields) {
			out[j] = fields[i]
		}
	}
	return out
}

// readTable streams the named file row by row as header-keyed maps. A data
// row that is short, unparsable or rejected by fn is skipped with a warning
// and recorded in the returned table, or fails the whole read in strict
// mode. A header that cannot be read or lacks a required column always
// fails. A missing or empty file reads as empty.
func (s *Store) readTable(name string, required []string, fn func(map[string]string) error) (table, error) {
	var tbl table
	f, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return tbl, nil
	}
	if err != nil {
		return tbl, fmt.Errorf("csvstore: open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return tbl, nil
	}
	if err != nil {
		return tbl, fmt.Errorf("%w: %s header: %v", repository.ErrCorruptRecord, name, err)
	}
	tbl.header = header
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return tbl, fmt.Errorf("%w: %s header: missing column %q", repository.ErrCorruptRecord, name, col)
		}
	}

	accepted := 0
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return tbl, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			if cerr := s.corrupt(name, line, err); cerr != nil {
				return tbl, cerr
			}
			tbl.unreadable = append(tbl.unreadable, line)
			continue
		}
		if err != nil {
			return tbl, fmt.Errorf("csvstore: read %s: %w", name, err)
		}

		row := make(map[string]string, len(idx))
		short := false
		for col, i := range idx {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		for _, col := range required {
			if idx[col] >= len(rec) {
				short = true
				break
			}
		}
		if short {
			err = fmt.Errorf("expected %d fields, got %d", len(required), len(rec))
		} else {
			err = fn(row)
		}
		if err != nil {
			if cerr := s.corrupt(name, line, err); cerr != nil {
				return tbl, cerr
			}
			tbl.skipped = append(tbl.skipped, skippedRow{after: accepted, fields: rec})
			continue
		}
		accepted++
	}
}

// corrupt applies the malformed-row policy: nil means the row was skipped.
func (s *Store) corrupt(name string, line int, err error) error {
	if s.strict {
		return fmt.Errorf("%w: %s line %d: %v", repository.ErrCorruptRecord, name, line, err)
	}
	s.log.Warn("skipping malformed row", "file", name, "line", line, "err", err)
	return nil
}

// writeAtomic replaces path with header+rows via a synced temp file.
func writeAtomic(path string, header []string, rows [][]string) error {
	if err := writeTemp(path, header, rows); err != nil {
		return err
	}
	return os.Rename(path+tmpSuffix, path)
}

func writeTemp(path string, header []string, rows [][]string) error {
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
