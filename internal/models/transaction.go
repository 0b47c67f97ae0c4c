package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TxnAccountCreation TransactionKind = "ACCOUNT_CREATION"
	TxnDeposit         TransactionKind = "DEPOSIT"
	TxnWithdrawal      TransactionKind = "WITHDRAWAL"
	TxnTransferOut     TransactionKind = "TRANSFER_OUT"
	TxnTransferIn      TransactionKind = "TRANSFER_IN"
)

// TimeLayout is the on-disk timestamp format of a transaction record.
const TimeLayout = "2006-01-02 15:04:05"

func (k TransactionKind) Valid() bool {
	switch k {
	case TxnAccountCreation, TxnDeposit, TxnWithdrawal, TxnTransferOut, TxnTransferIn:
		return true
	}
	return false
}

// Credit reports whether the kind adds its amount to the owner's balance.
func (k TransactionKind) Credit() bool {
	return k == TxnAccountCreation || k == TxnDeposit || k == TxnTransferIn
}

// Transaction is one immutable ledger record. Balance is the owner's
// balance right after the event.
type Transaction struct {
	ID        string          `json:"id,omitempty"`
	Username  string          `json:"username"`
	CreatedAt time.Time       `json:"created_at"`
	Kind      TransactionKind `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Details   string          `json:"details"`
}

// Delta is the signed effect of the record on its owner's balance.
func (t Transaction) Delta() decimal.Decimal {
	if t.Kind.Credit() {
		return t.Amount
	}
	return t.Amount.Neg()
}
