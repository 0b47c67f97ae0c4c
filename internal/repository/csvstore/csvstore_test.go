package csvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/repository"
)

func openStore(t *testing.T, strict bool) *Store {
	t.Helper()
	s, err := Open(Options{Dir: filepath.Join(t.TempDir(), "bank_data"), Strict: strict})
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, s *Store, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(s.path(name), []byte(body), 0o644))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func encodeAccounts(t *testing.T, s *Store, accounts []models.Account) [][]string {
	t.Helper()
	rows, err := s.accountRows(accounts)
	require.NoError(t, err)
	return rows
}

func encodeTransactions(t *testing.T, s *Store, txns []models.Transaction) [][]string {
	t.Helper()
	rows, err := s.transactionRows(txns)
	require.NoError(t, err)
	return rows
}

func readFile(t *testing.T, s *Store, name string) string {
	t.Helper()
	b, err := os.ReadFile(s.path(name))
	require.NoError(t, err)
	return string(b)
}

func TestOpenSeedsHeaders(t *testing.T) {
	s := openStore(t, false)

	b, err := os.ReadFile(s.path(AccountsFile))
	require.NoError(t, err)
	assert.Equal(t, "username,password,balance\n", string(b))

	b, err = os.ReadFile(s.path(TransactionsFile))
	require.NoError(t, err)
	assert.Equal(t, "username,date,type,amount,balance,details,id\n", string(b))
}

func TestOpenKeepsExistingData(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	require.NoError(t, s.SaveAccounts(ctx, []models.Account{{Username: "alice", Credential: "x", Balance: dec("1.50")}}))

	again, err := Open(Options{Dir: s.Dir()})
	require.NoError(t, err)
	got, err := again.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Username)
}

func TestMissingFilesReadAsEmpty(t *testing.T) {
	s := openStore(t, true)
	require.NoError(t, os.Remove(s.path(AccountsFile)))
	require.NoError(t, os.Remove(s.path(TransactionsFile)))

	accs, err := s.LoadAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accs)
	txns, err := s.LoadTransactions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestAccountsRoundTrip(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()
	in := []models.Account{
		{Username: "bob", Credential: "$2a$04$abc", Balance: dec("0")},
		{Username: "alice", Credential: "cHcx", Balance: dec("150.25")},
		{Username: "carol, jr", Credential: "quo\"te", Balance: dec("7.10")},
	}
	require.NoError(t, s.SaveAccounts(ctx, in))

	out, err := s.LoadAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Username, out[i].Username)
		assert.Equal(t, in[i].Credential, out[i].Credential)
		assert.True(t, in[i].Balance.Equal(out[i].Balance), "balance %d: %s != %s", i, in[i].Balance, out[i].Balance)
	}
}

func TestTransactionsRoundTripPreservesOrder(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	in := []models.Transaction{
		{ID: "1", Username: "alice", CreatedAt: at, Kind: models.TxnAccountCreation, Amount: dec("100"), Balance: dec("100"), Details: "Initial deposit"},
		{ID: "2", Username: "alice", CreatedAt: at.Add(time.Second), Kind: models.TxnTransferOut, Amount: dec("50"), Balance: dec("50"), Details: "Transfer to bob: gift"},
		{ID: "3", Username: "bob", CreatedAt: at.Add(time.Second), Kind: models.TxnTransferIn, Amount: dec("50"), Balance: dec("50"), Details: ""},
	}
	require.NoError(t, s.SaveTransactions(ctx, in))

	out, err := s.LoadTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Username, out[i].Username)
		assert.Equal(t, in[i].Kind, out[i].Kind)
		assert.Equal(t, in[i].Details, out[i].Details)
		assert.True(t, in[i].CreatedAt.Equal(out[i].CreatedAt))
		assert.True(t, in[i].Amount.Equal(out[i].Amount))
		assert.True(t, in[i].Balance.Equal(out[i].Balance))
	}
}

func TestLoadsFilesWithoutIDColumn(t *testing.T) {
	s := openStore(t, true)
	writeFile(t, s, AccountsFile, "username,password,balance\r\nalice,cHcx,150.0\r\n")
	writeFile(t, s, TransactionsFile, "username,date,type,amount,balance,details\r\n"+
		"alice,2024-01-02 03:04:05,ACCOUNT_CREATION,100.0,100.0,Initial deposit\r\n"+
		"alice,2024-01-02 03:05:00,DEPOSIT,50.0,150.0,Cash deposit\r\n")

	accs, err := s.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.True(t, accs[0].Balance.Equal(dec("150")))

	txns, err := s.LoadTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, models.TxnDeposit, txns[1].Kind)
	assert.Empty(t, txns[1].ID)
}

const malformedTxns = "username,date,type,amount,balance,details,id\n" +
	"alice,2024-01-02 03:04:05,ACCOUNT_CREATION,100.00,100.00,ok,a\n" +
	"alice,2024-01-02 03:04:06,DEPOSIT,lots,150.00,bad amount,b\n" +
	"alice,yesterday,DEPOSIT,1.00,101.00,bad date,c\n" +
	"alice,2024-01-02 03:04:07,REFUND,1.00,101.00,bad kind,d\n" +
	"alice,2024-01-02\n" +
	"alice,2024-01-02 03:04:08,DEPOSIT,1.00,101.00,ok,e\n"

func TestLenientLoadSkipsMalformedRows(t *testing.T) {
	s := openStore(t, false)
	writeFile(t, s, TransactionsFile, malformedTxns)
	writeFile(t, s, AccountsFile, "username,password,balance\nalice,x,NaNish\nbob,y,2.00\n")

	txns, err := s.LoadTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "a", txns[0].ID)
	assert.Equal(t, "e", txns[1].ID)

	accs, err := s.LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, "bob", accs[0].Username)
}

func TestStrictLoadRejectsMalformedRows(t *testing.T) {
	s := openStore(t, true)
	writeFile(t, s, TransactionsFile, malformedTxns)

	_, err := s.LoadTransactions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrCorruptRecord))
	assert.Contains(t, err.Error(), "line 3")
}

func TestBadHeaderFailsInEveryMode(t *testing.T) {
	for _, strict := range []bool{false, true} {
		s := openStore(t, strict)
		body := "user name,password,balance\nalice,x,100.00\nbob,y,5.00\n"
		writeFile(t, s, AccountsFile, body)

		_, err := s.LoadAccounts(context.Background())
		assert.ErrorIs(t, err, repository.ErrCorruptRecord, "strict=%v", strict)
		assert.Contains(t, err.Error(), "missing column")

		err = s.SaveAccounts(context.Background(), []models.Account{{Username: "alice", Credential: "z", Balance: dec("0")}})
		assert.ErrorIs(t, err, repository.ErrCorruptRecord, "strict=%v", strict)
		assert.Equal(t, body, readFile(t, s, AccountsFile), "a failed save must not touch the file")
	}
}

func TestMissingTransactionColumnFailsLenientLoad(t *testing.T) {
	s := openStore(t, false)
	writeFile(t, s, TransactionsFile, "username,date,type,amount,balance\nalice,2024-01-02 03:04:05,DEPOSIT,1.00,1.00\n")

	_, err := s.LoadTransactions(context.Background())
	assert.ErrorIs(t, err, repository.ErrCorruptRecord)
}

func TestEmptyFileReadsAsEmpty(t *testing.T) {
	s := openStore(t, false)
	writeFile(t, s, AccountsFile, "")

	accs, err := s.LoadAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accs)
}

func TestSaveKeepsSkippedRowsInPlace(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	writeFile(t, s, TransactionsFile, "username,date,type,amount,balance,details,id\n"+
		"alice,2024-01-02 03:04:05,ACCOUNT_CREATION,100.00,100.00,Initial deposit,a\n"+
		"carol,2024-01-01T10:00,ACCOUNT_CREATION,5.00,5.00,Initial deposit,c\n"+
		"bob,2024-01-02 03:04:06,ACCOUNT_CREATION,0.00,0.00,Initial deposit,b\n")

	txns, err := s.LoadTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	txns = append(txns, models.Transaction{
		ID: "d", Username: "alice", CreatedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.Local),
		Kind: models.TxnDeposit, Amount: dec("1"), Balance: dec("101"), Details: "Cash deposit",
	})
	require.NoError(t, s.SaveTransactions(ctx, txns))

	assert.Equal(t, "username,date,type,amount,balance,details,id\n"+
		"alice,2024-01-02 03:04:05,ACCOUNT_CREATION,100.00,100.00,Initial deposit,a\n"+
		"carol,2024-01-01T10:00,ACCOUNT_CREATION,5.00,5.00,Initial deposit,c\n"+
		"bob,2024-01-02 03:04:06,ACCOUNT_CREATION,0.00,0.00,Initial deposit,b\n"+
		"alice,2024-01-03 00:00:00,DEPOSIT,1.00,101.00,Cash deposit,d\n",
		readFile(t, s, TransactionsFile))
}

func TestWithTxKeepsSkippedRows(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	writeFile(t, s, AccountsFile, "username,password,balance\ncarol,pw,lots\nalice,x,1.00\n")

	require.NoError(t, s.WithTx(ctx, func(tx repository.Tx) error {
		accs, err := tx.LoadAccounts(ctx)
		if err != nil {
			return err
		}
		accs[0].Balance = dec("2")
		return tx.SaveAccounts(ctx, append(accs, models.Account{Username: "bob", Credential: "y", Balance: dec("0")}))
	}))

	assert.Equal(t, "username,password,balance\ncarol,pw,lots\nalice,x,2.00\nbob,y,0.00\n", readFile(t, s, AccountsFile))
}

func TestSkippedRowsFromLegacyLayoutAreRealigned(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	// no id column, as written by the original program
	writeFile(t, s, TransactionsFile, "username,date,type,amount,balance,details\n"+
		"carol,yesterday,DEPOSIT,5.00,5.00,cash\n")

	require.NoError(t, s.SaveTransactions(ctx, nil))
	assert.Equal(t, "username,date,type,amount,balance,details,id\ncarol,yesterday,DEPOSIT,5.00,5.00,cash,\n",
		readFile(t, s, TransactionsFile))
}

func TestWithTxCommitsBothCollections(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.SaveAccounts(ctx, []models.Account{{Username: "alice", Balance: dec("5")}}); err != nil {
			return err
		}
		staged, err := tx.LoadAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, staged, 1)

		onDisk, err := s.LoadAccounts(ctx)
		require.NoError(t, err)
		assert.Empty(t, onDisk, "staged save must not be visible before commit")

		return tx.SaveTransactions(ctx, []models.Transaction{{
			Username: "alice", CreatedAt: time.Now().Truncate(time.Second),
			Kind: models.TxnAccountCreation, Amount: dec("5"), Balance: dec("5"),
		}})
	})
	require.NoError(t, err)

	accs, err := s.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accs, 1)
	txns, err := s.LoadTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	_, err = os.Stat(s.path(journalFile))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWithTxErrorDiscardsStagedSaves(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.SaveAccounts(ctx, []models.Account{{Username: "alice", Balance: dec("5")}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	accs, err := s.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accs)
}

func TestOpenRollsJournaledCommitForward(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()

	// crash after the journal was written, before any rename
	require.NoError(t, writeTemp(s.path(AccountsFile), accountsHeader,
		encodeAccounts(t, s, []models.Account{{Username: "alice", Credential: "x", Balance: dec("40")}})))
	require.NoError(t, writeTemp(s.path(TransactionsFile), transactionsHeader,
		encodeTransactions(t, s, []models.Transaction{{Username: "alice", CreatedAt: time.Now(), Kind: models.TxnDeposit, Amount: dec("40"), Balance: dec("40")}})))
	require.NoError(t, s.writeJournal("c1", []string{AccountsFile, TransactionsFile}))
	// and after the first rename
	require.NoError(t, os.Rename(s.path(AccountsFile)+tmpSuffix, s.path(AccountsFile)))

	reopened, err := Open(Options{Dir: s.Dir(), Strict: true})
	require.NoError(t, err)

	accs, err := reopened.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accs, 1)
	txns, err := reopened.LoadTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	_, err = os.Stat(s.path(journalFile))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenDiscardsUnjournaledTempFiles(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()

	require.NoError(t, writeTemp(s.path(AccountsFile), accountsHeader,
		encodeAccounts(t, s, []models.Account{{Username: "ghost", Balance: dec("1")}})))

	reopened, err := Open(Options{Dir: s.Dir(), Strict: true})
	require.NoError(t, err)

	accs, err := reopened.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accs)
	_, err = os.Stat(s.path(AccountsFile) + tmpSuffix)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRestoreRefusesUnreadableRows(t *testing.T) {
	tbl := table{header: accountsHeader, unreadable: []int{3}}
	_, err := tbl.restore(AccountsFile, accountsHeader, nil)
	assert.ErrorIs(t, err, repository.ErrCorruptRecord)
	assert.Contains(t, err.Error(), "line 3")
}
