package csvstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

// stagedTx keeps saved collections in memory until commit. Loads see the
// staged copy once something was saved.
type stagedTx struct {
	s        *Store
	accounts []models.Account
	txns     []models.Transaction
	accDirty bool
	txnDirty bool
}

func (t *stagedTx) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	if t.accDirty {
		return append([]models.Account(nil), t.accounts...), nil
	}
	return t.s.LoadAccounts(ctx)
}

func (t *stagedTx) LoadTransactions(ctx context.Context) ([]models.Transaction, error) {
	if t.txnDirty {
		return append([]models.Transaction(nil), t.txns...), nil
	}
	return t.s.LoadTransactions(ctx)
}

func (t *stagedTx) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.accounts = append([]models.Account(nil), accounts...)
	t.accDirty = true
	return nil
}

func (t *stagedTx) SaveTransactions(ctx context.Context, txns []models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.txns = append([]models.Transaction(nil), txns...)
	t.txnDirty = true
	return nil
}

// WithTx runs fn against a staging Tx and commits both collections together.
// fn must only use the Tx it is given; calling the Store's own saves from fn
// deadlocks.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &stagedTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *stagedTx) error {
	var names []string
	if tx.accDirty {
		rows, err := s.accountRows(tx.accounts)
		if err != nil {
			return err
		}
		if err := writeTemp(s.path(AccountsFile), accountsHeader, rows); err != nil {
			return fmt.Errorf("csvstore: stage %s: %w", AccountsFile, err)
		}
		names = append(names, AccountsFile)
	}
	if tx.txnDirty {
		rows, err := s.transactionRows(tx.txns)
		if err != nil {
			return err
		}
		if err := writeTemp(s.path(TransactionsFile), transactionsHeader, rows); err != nil {
			return fmt.Errorf("csvstore: stage %s: %w", TransactionsFile, err)
		}
		names = append(names, TransactionsFile)
	}

	switch len(names) {
	case 0:
		return nil
	case 1:
		return os.Rename(s.path(names[0])+tmpSuffix, s.path(names[0]))
	}

	id := uuid.NewString()
	if err := s.writeJournal(id, names); err != nil {
		return fmt.Errorf("csvstore: write journal: %w", err)
	}
	if err := s.applyJournal(names); err != nil {
		return fmt.Errorf("csvstore: apply commit %s: %w", id, err)
	}
	s.log.Debug("commit applied", "commit", id, "files", names)
	return nil
}

// Journal layout: first line "commit <id>", then one file name per line.
func (s *Store) writeJournal(id string, names []string) error {
	p := s.path(journalFile)
	f, err := os.OpenFile(p+tmpSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "commit %s\n", id)
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(p+tmpSuffix, p)
}

// applyJournal renames each staged file into place and drops the journal.
// A staged file that is already gone was renamed by an earlier attempt.
func (s *Store) applyJournal(names []string) error {
	for _, n := range names {
		err := os.Rename(s.path(n)+tmpSuffix, s.path(n))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return os.Remove(s.path(journalFile))
}

// recover rolls a journaled commit forward and discards temp files of
// commits that never reached their journal.
func (s *Store) recover() error {
	b, err := os.ReadFile(s.path(journalFile))
	switch {
	case err == nil:
		lines := strings.Split(strings.TrimSpace(string(b)), "\n")
		if len(lines) < 2 || !strings.HasPrefix(lines[0], "commit ") {
			return fmt.Errorf("csvstore: unreadable journal %s", s.path(journalFile))
		}
		id := strings.TrimPrefix(lines[0], "commit ")
		if err := s.applyJournal(lines[1:]); err != nil {
			return fmt.Errorf("csvstore: recover commit %s: %w", id, err)
		}
		s.log.Warn("recovered interrupted commit", "commit", id, "files", lines[1:])
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("csvstore: read journal: %w", err)
	}

	stale, err := filepath.Glob(filepath.Join(s.dir, "*"+tmpSuffix))
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("csvstore: discard %s: %w", p, err)
		}
		s.log.Warn("discarded uncommitted file", "file", filepath.Base(p))
	}
	return nil
}
