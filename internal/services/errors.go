package services

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrSelfTransfer       = errors.New("cannot transfer to own account")
	ErrRecipientNotFound  = errors.New("recipient account not found")
	ErrCredentialMismatch = errors.New("credential mismatch")
	ErrNotAuthenticated   = errors.New("no authenticated user")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrDuplicateUsername, "duplicate_username"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrSelfTransfer, "self_transfer"},
	{ErrRecipientNotFound, "recipient_not_found"},
	{ErrCredentialMismatch, "credential_mismatch"},
	{ErrNotAuthenticated, "not_authenticated"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrStorageUnavailable, "storage_unavailable"},
}

// reason is the metrics label for err.
func reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "unknown"
}

// classify passes business-rule errors through and wraps anything else,
// which can only have come from the store, as ErrStorageUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if reason(err) != "unknown" {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
