// Package profiles is the Postgres-backed store for profiles, the transaction
// audit log and fulfilled payments.
package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/illegalcall/ai-credits/internal/models"
)

var (
	// ErrNotFound is returned when no profile row exists for the id.
	ErrNotFound = errors.New("profile not found")
	// ErrConditionFailed is returned when a guarded balance update matched no row.
	ErrConditionFailed = errors.New("balance condition not met")
)

const (
	selectProfileQuery = `SELECT id, email, credits, role FROM profiles WHERE id = $1`
	listProfilesQuery  = `SELECT id, email, credits, role FROM profiles`
	insertProfileQuery = `INSERT INTO profiles (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	deleteProfileQuery = `DELETE FROM profiles WHERE id = $1`

	// The balance check and the debit happen in one statement so concurrent
	// charges cannot both spend the same credits.
	debitQuery = `UPDATE profiles SET credits = credits - $1 WHERE id = $2 AND credits >= $1 RETURNING credits`

	adjustQuery = `UPDATE profiles SET credits = credits + $1 WHERE id = $2 AND credits + $1 >= 0 RETURNING credits`

	insertTransactionQuery = `INSERT INTO transactions (user_id, service_used, credits_spent) VALUES ($1, $2, $3)`
	listTransactionsQuery  = `SELECT id, user_id, service_used, credits_spent, created_at FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	insertPaymentQuery = `INSERT INTO payments (payment_id, order_id, user_id, amount, currency, credits) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (payment_id) DO NOTHING`
	creditQuery        = `UPDATE profiles SET credits = credits + $1 WHERE id = $2`
)

const (
	pgForeignKeyViolation       = "23503"
	pgInvalidTextRepresentation = "22P02"
)

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	if err := s.db.GetContext(ctx, &profile, selectProfileQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch profile %s: %w", id, err)
	}
	return &profile, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	var profiles []models.Profile
	if err := s.db.SelectContext(ctx, &profiles, listProfilesQuery); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// CreateProfile inserts a profile with the schema's starting balance. An
// existing row is left untouched.
func (s *Store) CreateProfile(ctx context.Context, id, email string) error {
	if _, err := s.db.ExecContext(ctx, insertProfileQuery, id, email); err != nil {
		return fmt.Errorf("failed to create profile %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteProfileQuery, id); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	return nil
}

// DebitCredits subtracts cost from the balance only if the balance covers it,
// returning the new balance. ErrConditionFailed means nothing was debited.
func (s *Store) DebitCredits(ctx context.Context, id string, cost int) (int, error) {
	var remaining int
	if err := s.db.QueryRowxContext(ctx, debitQuery, cost, id).Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrConditionFailed
		}
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}
	return remaining, nil
}

// AdjustCredits adds a signed amount, refusing to take the balance below zero.
func (s *Store) AdjustCredits(ctx context.Context, id string, amount int) (int, error) {
	var balance int
	if err := s.db.QueryRowxContext(ctx, adjustQuery, amount, id).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrConditionFailed
		}
		return 0, fmt.Errorf("failed to adjust credits: %w", err)
	}
	return balance, nil
}

func (s *Store) RecordTransaction(ctx context.Context, tx *models.Transaction) error {
	if _, err := s.db.ExecContext(ctx, insertTransactionQuery, tx.UserID, tx.ServiceUsed, tx.CreditsSpent); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	if err := s.db.SelectContext(ctx, &transactions, listTransactionsQuery, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}

// FulfillPayment credits the profile and records the payment in one database
// transaction. It reports false without touching the balance when the payment
// was already fulfilled. A user id that matches no profile, or is not a valid
// uuid, yields ErrNotFound.
func (s *Store) FulfillPayment(ctx context.Context, p *models.Payment) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, creditQuery, p.Credits, p.UserID)
	if err != nil {
		if missingProfile(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to credit profile %s: %w", p.UserID, err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read credit result: %w", err)
	}
	if updated == 0 {
		return false, ErrNotFound
	}

	// A duplicate payment returns here and the deferred rollback undoes the credit.
	res, err = tx.ExecContext(ctx, insertPaymentQuery, p.PaymentID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Credits)
	if err != nil {
		if missingProfile(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to record payment %s: %w", p.PaymentID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read payment insert result: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit payment %s: %w", p.PaymentID, err)
	}
	return true, nil
}

// missingProfile reports Postgres errors that mean the referenced profile
// cannot exist: a foreign key violation or a malformed uuid.
func missingProfile(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pgForeignKeyViolation || pqErr.Code == pgInvalidTextRepresentation
}
