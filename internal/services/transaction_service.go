package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/auth"
	"github.com/baharkarakas/insider-ledger/internal/metrics"
	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

const (
	opCreate     = "ACCOUNT_CREATION"
	opDeposit    = "DEPOSIT"
	opWithdraw   = "WITHDRAWAL"
	opTransfer   = "TRANSFER"
	opCredential = "CREDENTIAL_CHANGE"
	opLogin      = "AUTHENTICATE"
)

// TransactionService is the only writer of accounts and ledger records.
// Each operation validates first, then runs as one store transaction under
// the shared lock, so it is atomic with respect to every other operation.
type TransactionService struct {
	store repository.Store
	mu    *sync.RWMutex
	log   *slog.Logger
	m     *metrics.Metrics
	cost  int

	// Clock stamps ledger records; time.Now when nil.
	Clock func() time.Time
}

func NewTransactionService(store repository.Store, mu *sync.RWMutex, log *slog.Logger, m *metrics.Metrics, bcryptCost int) *TransactionService {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if mu == nil {
		mu = &sync.RWMutex{}
	}
	return &TransactionService{store: store, mu: mu, log: log, m: m, cost: bcryptCost}
}

// TransferResult holds the two records a transfer appends.
type TransferResult struct {
	Out models.Transaction
	In  models.Transaction
}

// ----------------- Helpers -----------------

// MaxBalance is the largest amount or balance the ledger accepts; it is
// what a numeric(14,2) column holds.
var MaxBalance = decimal.RequireFromString("999999999999.99")

func validAmount(a decimal.Decimal) bool {
	return a.IsPositive() && a.Equal(a.Round(2)) && a.LessThanOrEqual(MaxBalance)
}

// normalizeUser is applied to every username an operation receives.
func normalizeUser(s string) string { return strings.TrimSpace(s) }

func (s *TransactionService) fail(op string, err error, attrs ...any) error {
	s.m.OperationsFailed.WithLabelValues(op, reason(err)).Inc()
	if errors.Is(err, ErrStorageUnavailable) {
		s.log.Error("operation failed", append([]any{"op", op, "err", err}, attrs...)...)
	} else {
		s.log.Debug("operation rejected", append([]any{"op", op, "err", err}, attrs...)...)
	}
	return err
}

func note(prefix, details string) string {
	if details == "" {
		return prefix
	}
	return prefix + ": " + details
}

// run executes fn inside one store transaction while holding the write lock.
func (s *TransactionService) run(ctx context.Context, op string, fn func(reg *AccountRegistry, led *Ledger) error, attrs ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var led *Ledger
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		led = NewLedger(tx, s.Clock)
		return fn(NewAccountRegistry(tx), led)
	})
	if err != nil {
		return s.fail(op, classify(err), attrs...)
	}
	s.m.OperationsTotal.WithLabelValues(op).Inc()
	s.m.RecordsAppended.Add(float64(led.appended))
	s.log.Info("operation committed", append([]any{"op", op}, attrs...)...)
	return nil
}

// ----------------- CREATE -----------------

// CreateAccount registers username with a bcrypt hash of credential and an
// ACCOUNT_CREATION record for the opening balance.
func (s *TransactionService) CreateAccount(ctx context.Context, username, credential string, initial decimal.Decimal) (models.Account, error) {
	username = normalizeUser(username)
	if username == "" || credential == "" {
		return models.Account{}, s.fail(opCreate, ErrInvalidInput)
	}
	if initial.IsNegative() || !initial.Equal(initial.Round(2)) || initial.GreaterThan(MaxBalance) {
		return models.Account{}, s.fail(opCreate, ErrInvalidAmount, "user", username)
	}
	hash, err := auth.HashPassword(credential, s.cost)
	if err != nil {
		return models.Account{}, s.fail(opCreate, ErrInvalidInput, "user", username)
	}

	acc := models.Account{Username: username, Credential: hash, Balance: initial}
	err = s.run(ctx, opCreate, func(reg *AccountRegistry, led *Ledger) error {
		if err := reg.Insert(ctx, acc); err != nil {
			return err
		}
		_, err := led.Append(ctx, username, models.TxnAccountCreation, initial, initial, "Initial deposit")
		return err
	}, "user", username)
	if err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

// ----------------- DEPOSIT -----------------

func (s *TransactionService) Deposit(ctx context.Context, user string, amount decimal.Decimal, details string) (models.Transaction, error) {
	username := normalizeUser(user)
	if username == "" {
		return models.Transaction{}, s.fail(opDeposit, ErrNotAuthenticated)
	}
	if !validAmount(amount) {
		return models.Transaction{}, s.fail(opDeposit, ErrInvalidAmount, "user", username)
	}
	if details == "" {
		details = "Cash deposit"
	}

	var rec models.Transaction
	err := s.run(ctx, opDeposit, func(reg *AccountRegistry, led *Ledger) error {
		acc, ok, err := reg.Get(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		newBalance := acc.Balance.Add(amount)
		if newBalance.GreaterThan(MaxBalance) {
			return ErrInvalidAmount
		}
		if err := reg.SetBalance(ctx, username, newBalance); err != nil {
			return err
		}
		rec, err = led.Append(ctx, username, models.TxnDeposit, amount, newBalance, details)
		return err
	}, "user", username, "amount", amount.StringFixed(2))
	return rec, err
}

// ----------------- WITHDRAW -----------------

func (s *TransactionService) Withdraw(ctx context.Context, user string, amount decimal.Decimal, details string) (models.Transaction, error) {
	username := normalizeUser(user)
	if username == "" {
		return models.Transaction{}, s.fail(opWithdraw, ErrNotAuthenticated)
	}
	if !validAmount(amount) {
		return models.Transaction{}, s.fail(opWithdraw, ErrInvalidAmount, "user", username)
	}
	if details == "" {
		details = "Cash withdrawal"
	}

	var rec models.Transaction
	err := s.run(ctx, opWithdraw, func(reg *AccountRegistry, led *Ledger) error {
		acc, ok, err := reg.Get(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		if amount.GreaterThan(acc.Balance) {
			return ErrInsufficientFunds
		}
		newBalance := acc.Balance.Sub(amount)
		if err := reg.SetBalance(ctx, username, newBalance); err != nil {
			return err
		}
		rec, err = led.Append(ctx, username, models.TxnWithdrawal, amount, newBalance, details)
		return err
	}, "user", username, "amount", amount.StringFixed(2))
	return rec, err
}

// ----------------- TRANSFER -----------------

// Transfer moves amount from one account to another. Both balance updates
// and both records are committed together or not at all.
func (s *TransactionService) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, details string) (TransferResult, error) {
	fromUser, toUser := normalizeUser(from), normalizeUser(to)
	if fromUser == "" {
		return TransferResult{}, s.fail(opTransfer, ErrNotAuthenticated)
	}
	if !validAmount(amount) {
		return TransferResult{}, s.fail(opTransfer, ErrInvalidAmount, "from", fromUser)
	}
	if fromUser == toUser {
		return TransferResult{}, s.fail(opTransfer, ErrSelfTransfer, "from", fromUser)
	}

	var res TransferResult
	err := s.run(ctx, opTransfer, func(reg *AccountRegistry, led *Ledger) error {
		sender, ok, err := reg.Get(ctx, fromUser)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		if amount.GreaterThan(sender.Balance) {
			return ErrInsufficientFunds
		}
		recipient, ok, err := reg.Get(ctx, toUser)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRecipientNotFound
		}

		fromBalance := sender.Balance.Sub(amount)
		toBalance := recipient.Balance.Add(amount)
		if toBalance.GreaterThan(MaxBalance) {
			return ErrInvalidAmount
		}

		// 1) debit
		if err := reg.SetBalance(ctx, fromUser, fromBalance); err != nil {
			return err
		}
		// 2) credit
		if err := reg.SetBalance(ctx, toUser, toBalance); err != nil {
			return err
		}

		res.Out, err = led.Append(ctx, fromUser, models.TxnTransferOut, amount, fromBalance, note("Transfer to "+toUser, details))
		if err != nil {
			return err
		}
		res.In, err = led.Append(ctx, toUser, models.TxnTransferIn, amount, toBalance, note("Transfer from "+fromUser, details))
		return err
	}, "from", fromUser, "to", toUser, "amount", amount.StringFixed(2))
	return res, err
}

// ----------------- CREDENTIALS -----------------

// ChangeCredential replaces username's credential after checking old
// against the stored one. It does not touch the ledger.
func (s *TransactionService) ChangeCredential(ctx context.Context, user, oldCredential, newCredential string) error {
	username := normalizeUser(user)
	if username == "" {
		return s.fail(opCredential, ErrNotAuthenticated)
	}
	if newCredential == "" {
		return s.fail(opCredential, ErrInvalidInput, "user", username)
	}
	hash, err := auth.HashPassword(newCredential, s.cost)
	if err != nil {
		return s.fail(opCredential, ErrInvalidInput, "user", username)
	}

	return s.run(ctx, opCredential, func(reg *AccountRegistry, _ *Ledger) error {
		acc, ok, err := reg.Get(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		if err := auth.VerifyPassword(oldCredential, acc.Credential); err != nil {
			return ErrCredentialMismatch
		}
		return reg.SetCredential(ctx, username, hash)
	}, "user", username)
}

// Authenticate resolves a login. Unknown users and wrong credentials both
// yield ErrCredentialMismatch. A legacy stored credential is rehashed on
// success.
func (s *TransactionService) Authenticate(ctx context.Context, user, credential string) (models.Account, error) {
	username := normalizeUser(user)
	var acc models.Account
	err := s.run(ctx, opLogin, func(reg *AccountRegistry, _ *Ledger) error {
		a, ok, err := reg.Get(ctx, username)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCredentialMismatch
		}
		if err := auth.VerifyPassword(credential, a.Credential); err != nil {
			if errors.Is(err, auth.ErrMismatch) {
				return ErrCredentialMismatch
			}
			return err
		}
		if !auth.IsHash(a.Credential) {
			hash, err := auth.HashPassword(credential, s.cost)
			if err != nil {
				return err
			}
			if err := reg.SetCredential(ctx, username, hash); err != nil {
				return err
			}
			a.Credential = hash
			s.log.Info("legacy credential upgraded", "user", username)
		}
		acc = a
		return nil
	}, "user", username)
	return acc, err
}
