// Package credits implements the gate that must approve, and pay for, every
// paid AI operation.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illegalcall/ai-credits/internal/metrics"
	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/profiles"
)

var (
	ErrProfileNotFound     = errors.New("Could not find user profile.")
	ErrInsufficientCredits = errors.New("Insufficient credits. Please upgrade your plan.")
	ErrInvalidCost         = errors.New("cost must be a positive number of credits")
)

// Store is the subset of the profile store the gate needs.
type Store interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	DebitCredits(ctx context.Context, id string, cost int) (int, error)
	RecordTransaction(ctx context.Context, tx *models.Transaction) error
}

// Charge describes an approved operation.
type Charge struct {
	Policy Policy
	// Remaining is the balance after the debit; for Unmetered it is the
	// untouched balance.
	Remaining int
}

type Gate struct {
	store      Store
	adminUsage AdminUsage
	logger     zerolog.Logger
}

func NewGate(store Store, adminUsage AdminUsage, logger zerolog.Logger) *Gate {
	return &Gate{
		store:      store,
		adminUsage: adminUsage,
		logger:     logger.With().Str("component", "credit_gate").Logger(),
	}
}

// AuthorizeAndCharge approves the operation for userID and, for metered
// profiles, debits cost credits atomically. Callers must not run the paid
// operation when an error is returned.
func (g *Gate) AuthorizeAndCharge(ctx context.Context, userID, serviceName string, cost int) (Charge, error) {
	if cost <= 0 {
		return Charge{}, ErrInvalidCost
	}

	profile, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			metrics.ObserveCharge(serviceName, metrics.OutcomeNoProfile)
			return Charge{}, ErrProfileNotFound
		}
		metrics.ObserveCharge(serviceName, metrics.OutcomeError)
		return Charge{}, fmt.Errorf("failed to load profile: %w", err)
	}

	switch policy := PolicyFor(profile, cost).(type) {
	case Unmetered:
		g.logger.Info().Str("user_id", userID).Str("service", serviceName).Msg("Admin usage, no credits deducted")
		if g.adminUsage == AdminUsageRecorded {
			g.record(ctx, userID, serviceName, 0)
		}
		metrics.ObserveCharge(serviceName, metrics.OutcomeUnmetered)
		return Charge{Policy: policy, Remaining: profile.Credits}, nil

	case Metered:
		// Early exit only. The conditional debit is the real guard.
		if profile.Credits < policy.Cost {
			metrics.ObserveCharge(serviceName, metrics.OutcomeInsufficient)
			return Charge{}, ErrInsufficientCredits
		}

		remaining, err := g.store.DebitCredits(ctx, userID, policy.Cost)
		if err != nil {
			if errors.Is(err, profiles.ErrConditionFailed) {
				metrics.ObserveCharge(serviceName, metrics.OutcomeInsufficient)
				return Charge{}, ErrInsufficientCredits
			}
			metrics.ObserveCharge(serviceName, metrics.OutcomeError)
			return Charge{}, fmt.Errorf("Failed to update user credits: %w", err)
		}

		g.record(ctx, userID, serviceName, policy.Cost)
		metrics.ObserveCharge(serviceName, metrics.OutcomeCharged)
		return Charge{Policy: policy, Remaining: remaining}, nil

	default:
		return Charge{}, fmt.Errorf("unknown credit policy %T", policy)
	}
}

// record appends to the audit log. Failures are logged only; the debit stands.
func (g *Gate) record(ctx context.Context, userID, serviceName string, spent int) {
	err := g.store.RecordTransaction(ctx, &models.Transaction{
		UserID:       userID,
		ServiceUsed:  serviceName,
		CreditsSpent: spent,
	})
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Str("service", serviceName).Msg("Failed to log transaction")
	}
}
