package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/insider-ledger/internal/models"
	"github.com/baharkarakas/insider-ledger/internal/services"
	"github.com/baharkarakas/insider-ledger/internal/validate"
)

type command func(ctx context.Context, a *app, args []string) error

var (
	errUsage       = errors.New("usage")
	errAuditFailed = errors.New("audit found inconsistencies")
)

var commands = map[string]command{
	"create":       cmdCreate,
	"deposit":      cmdDeposit,
	"withdraw":     cmdWithdraw,
	"transfer":     cmdTransfer,
	"balance":      cmdBalance,
	"history":      cmdHistory,
	"passwd":       cmdPasswd,
	"accounts":     cmdAccounts,
	"transactions": cmdTransactions,
	"stats":        cmdStats,
	"search":       cmdSearch,
	"audit":        cmdAudit,
}

func exitCode(err error) int {
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}

type flags struct {
	fs       *flag.FlagSet
	user     *string
	password *string
}

func newFlags(name string) *flags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return &flags{
		fs:       fs,
		user:     fs.String("user", "", "account username"),
		password: fs.String("password", "", "account password"),
	}
}

func (f *flags) parse(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, f.fs.Name(), err)
	}
	return nil
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errUsage, err)
}

// login resolves the acting user. An empty -user leaves nobody logged in,
// which the engine rejects as not authenticated.
func (f *flags) login(ctx context.Context, a *app) (string, error) {
	if *f.user == "" {
		return "", nil
	}
	acc, err := a.txn.Authenticate(ctx, *f.user, *f.password)
	if err != nil {
		return "", err
	}
	return acc.Username, nil
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func cmdCreate(ctx context.Context, a *app, args []string) error {
	f := newFlags("create")
	amountRaw := f.fs.String("amount", "0", "opening balance")
	if err := f.parse(args); err != nil {
		return err
	}
	amount, aerr := validate.Amount("amount", *amountRaw)
	if err := invalid(validate.Collect(validate.Required("user", *f.user), validate.Required("password", *f.password), aerr)); err != nil {
		return err
	}
	acc, err := a.txn.CreateAccount(ctx, *f.user, *f.password, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "account %s created with balance %s\n", acc.Username, money(acc.Balance))
	return nil
}

func cmdDeposit(ctx context.Context, a *app, args []string) error {
	return cashCommand(ctx, a, "deposit", args, a.txn.Deposit)
}

func cmdWithdraw(ctx context.Context, a *app, args []string) error {
	return cashCommand(ctx, a, "withdraw", args, a.txn.Withdraw)
}

func cashCommand(ctx context.Context, a *app, name string, args []string,
	op func(context.Context, string, decimal.Decimal, string) (models.Transaction, error)) error {
	f := newFlags(name)
	amountRaw := f.fs.String("amount", "", "amount")
	details := f.fs.String("details", "", "free-text note")
	if err := f.parse(args); err != nil {
		return err
	}
	amount, aerr := validate.Amount("amount", *amountRaw)
	if err := invalid(validate.Collect(aerr)); err != nil {
		return err
	}
	user, err := f.login(ctx, a)
	if err != nil {
		return err
	}
	rec, err := op(ctx, user, amount, *details)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s, balance %s\n", rec.Kind, money(rec.Amount), money(rec.Balance))
	return nil
}

func cmdTransfer(ctx context.Context, a *app, args []string) error {
	f := newFlags("transfer")
	to := f.fs.String("to", "", "recipient username")
	amountRaw := f.fs.String("amount", "", "amount")
	details := f.fs.String("details", "", "free-text note")
	if err := f.parse(args); err != nil {
		return err
	}
	amount, aerr := validate.Amount("amount", *amountRaw)
	if err := invalid(validate.Collect(validate.Required("to", *to), aerr)); err != nil {
		return err
	}
	user, err := f.login(ctx, a)
	if err != nil {
		return err
	}
	res, err := a.txn.Transfer(ctx, user, *to, amount, *details)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "transferred %s to %s, balance %s\n", money(amount), *to, money(res.Out.Balance))
	return nil
}

func cmdBalance(ctx context.Context, a *app, args []string) error {
	f := newFlags("balance")
	if err := f.parse(args); err != nil {
		return err
	}
	user, err := f.login(ctx, a)
	if err != nil {
		return err
	}
	if user == "" {
		return services.ErrNotAuthenticated
	}
	bal, err := a.reports.Balance(ctx, user)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, money(bal))
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	f := newFlags("history")
	n := f.fs.Int("n", 0, "number of records, newest first")
	if err := f.parse(args); err != nil {
		return err
	}
	user, err := f.login(ctx, a)
	if err != nil {
		return err
	}
	if user == "" {
		return services.ErrNotAuthenticated
	}
	txns, err := a.reports.History(ctx, user, *n)
	if err != nil {
		return err
	}
	printTransactions(a.out, txns, false)
	return nil
}

func cmdPasswd(ctx context.Context, a *app, args []string) error {
	f := newFlags("passwd")
	newPassword := f.fs.String("new", "", "new password")
	if err := f.parse(args); err != nil {
		return err
	}
	if err := invalid(validate.Collect(validate.Required("new", *newPassword))); err != nil {
		return err
	}
	if err := a.txn.ChangeCredential(ctx, *f.user, *f.password, *newPassword); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "password changed")
	return nil
}

func cmdAccounts(ctx context.Context, a *app, args []string) error {
	f := newFlags("accounts")
	if err := f.parse(args); err != nil {
		return err
	}
	accs, err := a.reports.Accounts(ctx)
	if err != nil {
		return err
	}
	printAccounts(a.out, accs)
	return nil
}

func cmdTransactions(ctx context.Context, a *app, args []string) error {
	f := newFlags("transactions")
	n := f.fs.Int("n", 0, "number of records, newest first")
	if err := f.parse(args); err != nil {
		return err
	}
	txns, err := a.reports.AllHistory(ctx, *n)
	if err != nil {
		return err
	}
	printTransactions(a.out, txns, true)
	return nil
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	f := newFlags("stats")
	if err := f.parse(args); err != nil {
		return err
	}
	st, err := a.reports.Stats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "accounts\t%d\n", st.Accounts)
	fmt.Fprintf(w, "transactions\t%d\n", st.TransactionCount)
	fmt.Fprintf(w, "total balance\t%s\n", money(st.TotalBalance))
	fmt.Fprintf(w, "average balance\t%s\n", money(st.AverageBalance))
	fmt.Fprintf(w, "max balance\t%s\n", money(st.MaxBalance))
	fmt.Fprintf(w, "min balance\t%s\n", money(st.MinBalance))
	return w.Flush()
}

func cmdSearch(ctx context.Context, a *app, args []string) error {
	f := newFlags("search")
	term := f.fs.String("term", "", "case-insensitive username fragment")
	if err := f.parse(args); err != nil {
		return err
	}
	if err := invalid(validate.Collect(validate.Required("term", *term))); err != nil {
		return err
	}
	accs, err := a.reports.Search(ctx, *term)
	if err != nil {
		return err
	}
	printAccounts(a.out, accs)
	return nil
}

func cmdAudit(ctx context.Context, a *app, args []string) error {
	f := newFlags("audit")
	if err := f.parse(args); err != nil {
		return err
	}
	issues, err := a.reports.Audit(ctx)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Fprintln(a.out, "ok")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tUSER\tRECORD\tEXPECTED\tACTUAL")
	for _, is := range issues {
		rec := "-"
		if is.Record >= 0 {
			rec = fmt.Sprint(is.Record)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", is.Kind, is.Username, rec, money(is.Expected), money(is.Actual))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return errAuditFailed
}

func printAccounts(out io.Writer, accs []models.Account) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tBALANCE")
	for _, acc := range accs {
		fmt.Fprintf(w, "%s\t%s\n", acc.Username, money(acc.Balance))
	}
	_ = w.Flush()
}

func printTransactions(out io.Writer, txns []models.Transaction, withUser bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if withUser {
		fmt.Fprintln(w, "DATE\tUSER\tTYPE\tAMOUNT\tBALANCE\tDETAILS")
	} else {
		fmt.Fprintln(w, "DATE\tTYPE\tAMOUNT\tBALANCE\tDETAILS")
	}
	for _, t := range txns {
		date := t.CreatedAt.Format(models.TimeLayout)
		if withUser {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", date, t.Username, t.Kind, money(t.Amount), money(t.Balance), t.Details)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", date, t.Kind, money(t.Amount), money(t.Balance), t.Details)
		}
	}
	_ = w.Flush()
}
