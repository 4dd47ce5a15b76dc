package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"
)

// Store is the persistence contract the gate and the billing glue depend
// on. Repository is the MySQL implementation; tests substitute their own.
type Store interface {
	GetOrCreateAccount(ctx context.Context, ident string) (Account, error)
	Debit(ctx context.Context, ident, feature string, cost int, description string) (int, error)
	Credit(ctx context.Context, ident string, amount int, txType TxType, description, ref string) (int, error)
	SetPlan(ctx context.Context, ident string, tier PlanTier, allotment int, expiresAt *time.Time) error
	Transactions(ctx context.Context, ident string, limit int) ([]Transaction, error)
}

// Repository implements Store on database/sql. The statements avoid
// vendor-only syntax so the exact same code paths run against the embedded
// engine in tests.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const accountCols = "id, identifier, balance, plan_tier, monthly_allotment, expires_at"

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	var exp sql.NullTime
	if err := row.Scan(&a.ID, &a.Identifier, &a.Balance, &a.PlanTier, &a.MonthlyAllotment, &exp); err != nil {
		return Account{}, err
	}
	if exp.Valid {
		t := exp.Time
		a.ExpiresAt = &t
	}
	return a, nil
}

// GetOrCreateAccount returns the account for ident, creating a free-tier
// zero-balance record on first sight.
func (r *Repository) GetOrCreateAccount(ctx context.Context, ident string) (Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM credit_accounts WHERE identifier = ?", ident))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}
	// A concurrent first query may win this insert; the re-read below
	// returns whichever row landed.
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO credit_accounts (identifier, balance, plan_tier, monthly_allotment) VALUES (?, 0, 'free', 0)",
		ident); err != nil {
		log.Printf("[ledger][create] ident=%s err=%v", ident, err)
	}
	return scanAccount(r.db.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM credit_accounts WHERE identifier = ?", ident))
}

// Debit atomically spends cost credits from ident's account. The balance
// check and the decrement are one guarded UPDATE at the database, never a
// client-side read-modify-write, so concurrent debits from multiple
// devices cannot interleave past each other. Returns the new balance; on
// insufficient funds returns *InsufficientCreditsError and mutates nothing.
func (r *Repository) Debit(ctx context.Context, ident, feature string, cost int, description string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE credit_accounts SET balance = balance - ? WHERE identifier = ? AND balance >= ?",
		cost, ident, cost)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var balance int
		err := tx.QueryRowContext(ctx,
			"SELECT balance FROM credit_accounts WHERE identifier = ?", ident).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			balance = 0
		} else if err != nil {
			return 0, err
		}
		return balance, &InsufficientCreditsError{
			Feature:   feature,
			Cost:      cost,
			Balance:   balance,
			Shortfall: cost - balance,
		}
	}

	var id int64
	var after int
	if err := tx.QueryRowContext(ctx,
		"SELECT id, balance FROM credit_accounts WHERE identifier = ?", ident).Scan(&id, &after); err != nil {
		return 0, err
	}
	if err := appendTransaction(ctx, tx, id, TxUsage, -cost, after, feature, description, ""); err != nil {
		return 0, err
	}
	return after, tx.Commit()
}

// Credit adds amount credits, creating the account when absent. ref is an
// optional external reference (billing event id); a ref seen before makes
// the call a no-op returning the current balance, which is what lets the
// payment webhook be replayed safely.
func (r *Repository) Credit(ctx context.Context, ident string, amount int, txType TxType, description, ref string) (int, error) {
	if _, err := r.GetOrCreateAccount(ctx, ident); err != nil {
		return 0, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if ref != "" {
		var seen int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM credit_transactions WHERE ref = ?", ref).Scan(&seen); err != nil {
			return 0, err
		}
		if seen > 0 {
			var balance int
			if err := tx.QueryRowContext(ctx,
				"SELECT balance FROM credit_accounts WHERE identifier = ?", ident).Scan(&balance); err != nil {
				return 0, err
			}
			log.Printf("[ledger][credit] ident=%s ref=%s reason=duplicate_ref skipped", ident, ref)
			return balance, nil
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE credit_accounts SET balance = balance + ? WHERE identifier = ?", amount, ident); err != nil {
		return 0, err
	}
	var id int64
	var after int
	if err := tx.QueryRowContext(ctx,
		"SELECT id, balance FROM credit_accounts WHERE identifier = ?", ident).Scan(&id, &after); err != nil {
		return 0, err
	}
	if err := appendTransaction(ctx, tx, id, txType, amount, after, "", description, ref); err != nil {
		return 0, err
	}
	return after, tx.Commit()
}

// SetPlan records a tier change from the billing webhook. Balance is left
// alone: cancellation flips the tier, credits persist.
func (r *Repository) SetPlan(ctx context.Context, ident string, tier PlanTier, allotment int, expiresAt *time.Time) error {
	if _, err := r.GetOrCreateAccount(ctx, ident); err != nil {
		return err
	}
	var exp any
	if expiresAt != nil {
		exp = expiresAt.UTC()
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE credit_accounts SET plan_tier = ?, monthly_allotment = ?, expires_at = ? WHERE identifier = ?",
		string(tier), allotment, exp, ident)
	return err
}

// Transactions lists recent ledger entries for ident, newest first.
func (r *Repository) Transactions(ctx context.Context, ident string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.account_id, t.type, t.delta, t.balance_after, t.feature, t.description, t.ref, t.created_at
		 FROM credit_transactions t
		 JOIN credit_accounts a ON a.id = t.account_id
		 WHERE a.identifier = ?
		 ORDER BY t.id DESC LIMIT ?`, ident, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var ref sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Delta, &t.BalanceAfter,
			&t.Feature, &t.Description, &ref, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Ref = ref.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func appendTransaction(ctx context.Context, tx *sql.Tx, accountID int64, txType TxType, delta, after int, feature, description, ref string) error {
	var refVal any
	if ref != "" {
		refVal = ref
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (account_id, type, delta, balance_after, feature, description, ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		accountID, string(txType), delta, after, feature, description, refVal, time.Now().UTC())
	return err
}
