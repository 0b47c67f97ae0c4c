package services

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
	"github.com/baharkarakas/insider-ledger/internal/worker"
)

// ReportService answers read-only queries. It always reads the store, never
// a cached snapshot, and shares the engine's lock so it cannot observe half
// of a transfer.
type ReportService struct {
	store repository.Store
	mu    *sync.RWMutex

	historyLimit    int
	allHistoryLimit int
}

func NewReportService(store repository.Store, mu *sync.RWMutex, historyLimit, allHistoryLimit int) *ReportService {
	if mu == nil {
		mu = &sync.RWMutex{}
	}
	if historyLimit <= 0 {
		historyLimit = 15
	}
	if allHistoryLimit <= 0 {
		allHistoryLimit = 20
	}
	return &ReportService{store: store, mu: mu, historyLimit: historyLimit, allHistoryLimit: allHistoryLimit}
}

func (s *ReportService) read(fn func(reg *AccountRegistry, led *Ledger) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return classify(fn(NewAccountRegistry(s.store), NewLedger(s.store, nil)))
}

func (s *ReportService) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	username = normalizeUser(username)
	var bal decimal.Decimal
	err := s.read(func(reg *AccountRegistry, _ *Ledger) error {
		acc, ok, err := reg.Get(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		bal = acc.Balance
		return nil
	})
	return bal, err
}

func (s *ReportService) Account(ctx context.Context, username string) (models.Account, error) {
	username = normalizeUser(username)
	var acc models.Account
	err := s.read(func(reg *AccountRegistry, _ *Ledger) error {
		a, ok, err := reg.Get(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		acc = a
		return nil
	})
	return acc, err
}

// History returns username's newest n records, newest first. n <= 0 uses
// the configured default.
func (s *ReportService) History(ctx context.Context, username string, n int) ([]models.Transaction, error) {
	username = normalizeUser(username)
	if n <= 0 {
		n = s.historyLimit
	}
	var out []models.Transaction
	err := s.read(func(reg *AccountRegistry, led *Ledger) error {
		ok, err := reg.Exists(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		txns, err := led.AllForUser(ctx, username)
		if err != nil {
			return err
		}
		out = newestFirst(txns, n)
		return nil
	})
	return out, err
}

// AllHistory returns the newest n records across every account.
func (s *ReportService) AllHistory(ctx context.Context, n int) ([]models.Transaction, error) {
	if n <= 0 {
		n = s.allHistoryLimit
	}
	var out []models.Transaction
	err := s.read(func(_ *AccountRegistry, led *Ledger) error {
		txns, err := led.AllRecords(ctx)
		if err != nil {
			return err
		}
		out = newestFirst(txns, n)
		return nil
	})
	return out, err
}

func newestFirst(txns []models.Transaction, n int) []models.Transaction {
	if len(txns) > n {
		txns = txns[len(txns)-n:]
	}
	out := make([]models.Transaction, 0, len(txns))
	for i := len(txns) - 1; i >= 0; i-- {
		out = append(out, txns[i])
	}
	return out
}

func (s *ReportService) Accounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	err := s.read(func(reg *AccountRegistry, _ *Ledger) error {
		var err error
		out, err = reg.All(ctx)
		return err
	})
	return out, err
}

func (s *ReportService) Search(ctx context.Context, term string) ([]models.Account, error) {
	var out []models.Account
	err := s.read(func(reg *AccountRegistry, _ *Ledger) error {
		var err error
		out, err = reg.Search(ctx, term)
		return err
	})
	return out, err
}

// Stats aggregates balances. An empty ledger yields all-zero stats.
func (s *ReportService) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.read(func(reg *AccountRegistry, led *Ledger) error {
		accounts, err := reg.All(ctx)
		if err != nil {
			return err
		}
		txns, err := led.AllRecords(ctx)
		if err != nil {
			return err
		}
		st = stats(accounts, len(txns))
		return nil
	})
	return st, err
}

func stats(accounts []models.Account, txnCount int) models.Stats {
	st := models.Stats{
		Accounts:         len(accounts),
		TotalBalance:     decimal.Zero,
		AverageBalance:   decimal.Zero,
		MaxBalance:       decimal.Zero,
		MinBalance:       decimal.Zero,
		TransactionCount: txnCount,
	}
	for i, a := range accounts {
		st.TotalBalance = st.TotalBalance.Add(a.Balance)
		if i == 0 || a.Balance.GreaterThan(st.MaxBalance) {
			st.MaxBalance = a.Balance
		}
		if i == 0 || a.Balance.LessThan(st.MinBalance) {
			st.MinBalance = a.Balance
		}
	}
	if len(accounts) > 0 {
		st.AverageBalance = st.TotalBalance.Div(decimal.NewFromInt(int64(len(accounts)))).Round(2)
	}
	return st
}

type AuditIssueKind string

const (
	// a record's resulting balance is not the previous one plus its delta
	IssueRecordBalance   AuditIssueKind = "record_balance_mismatch"
	IssueAccountBalance  AuditIssueKind = "account_balance_mismatch"
	IssueOrphanRecords   AuditIssueKind = "orphan_records"
	IssueNegativeBalance AuditIssueKind = "negative_balance"
)

type AuditIssue struct {
	Kind     AuditIssueKind
	Username string
	// position in the user's history, -1 when not about one record
	Record   int
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

// Audit replays every user's history from zero and reports where it does
// not reproduce the stored balances.
func (s *ReportService) Audit(ctx context.Context) ([]AuditIssue, error) {
	var issues []AuditIssue
	err := s.read(func(reg *AccountRegistry, led *Ledger) error {
		accounts, err := reg.All(ctx)
		if err != nil {
			return err
		}
		txns, err := led.AllRecords(ctx)
		if err != nil {
			return err
		}
		issues, err = audit(ctx, accounts, txns)
		return err
	})
	return issues, err
}

const auditWorkers = 4

func audit(ctx context.Context, accounts []models.Account, txns []models.Transaction) ([]AuditIssue, error) {
	byUser := make(map[string][]models.Transaction, len(accounts))
	for _, t := range txns {
		byUser[t.Username] = append(byUser[t.Username], t)
	}

	// one slot per account keeps the report in account order
	perAccount := make([][]AuditIssue, len(accounts))
	err := worker.Each(ctx, auditWorkers, len(accounts), func(i int) {
		perAccount[i] = auditAccount(accounts[i], byUser[accounts[i].Username])
	})
	if err != nil {
		return nil, err
	}

	var issues []AuditIssue
	known := make(map[string]bool, len(accounts))
	for i, a := range accounts {
		known[a.Username] = true
		issues = append(issues, perAccount[i]...)
	}

	orphans := map[string]bool{}
	for _, t := range txns {
		if !known[t.Username] && !orphans[t.Username] {
			orphans[t.Username] = true
			issues = append(issues, AuditIssue{Kind: IssueOrphanRecords, Username: t.Username, Record: -1, Expected: decimal.Zero, Actual: Replay(byUser[t.Username])})
		}
	}
	return issues, nil
}

func auditAccount(a models.Account, history []models.Transaction) []AuditIssue {
	var issues []AuditIssue
	if a.Balance.IsNegative() {
		issues = append(issues, AuditIssue{Kind: IssueNegativeBalance, Username: a.Username, Record: -1, Expected: decimal.Zero, Actual: a.Balance})
	}
	prev := decimal.Zero
	for i, t := range history {
		if want := prev.Add(t.Delta()); !want.Equal(t.Balance) {
			issues = append(issues, AuditIssue{Kind: IssueRecordBalance, Username: a.Username, Record: i, Expected: want, Actual: t.Balance})
		}
		prev = t.Balance
	}
	if replayed := Replay(history); !replayed.Equal(a.Balance) {
		issues = append(issues, AuditIssue{Kind: IssueAccountBalance, Username: a.Username, Record: -1, Expected: replayed, Actual: a.Balance})
	}
	return issues
}
