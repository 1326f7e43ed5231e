// Package services – CreditLedger
//
// CreditLedger owns the credit field of users. Reserve and Refund are
// additive deltas used by the generation protocol; Grant replaces the
// balance and is reserved for subscription reconciliation. Callers must not
// mix the two paths.
package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/repo"
)

// Ledger is the contract the submission and reconciliation protocols depend on.
type Ledger interface {
	Reserve(ctx context.Context, userID string, amount int64) error
	Refund(ctx context.Context, userID string, amount int64) error
}

// CreditLedger implements Ledger on top of single-row conditional updates.
type CreditLedger struct {
	DB *gorm.DB
}

// NewCreditLedger constructs a ledger bound to db.
func NewCreditLedger(db *gorm.DB) *CreditLedger { return &CreditLedger{DB: db} }

// WithTx returns a ledger whose operations run inside tx.
func (l *CreditLedger) WithTx(tx *gorm.DB) *CreditLedger { return &CreditLedger{DB: tx} }

// Reserve debits amount from userID. It fails with ErrUserNotFound or
// ErrInsufficientCredits and leaves the balance untouched on failure.
func (l *CreditLedger) Reserve(ctx context.Context, userID string, amount int64) error {
	ctx, span := otel.Tracer("services/CreditLedger").Start(ctx, "Reserve",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount)))
	defer span.End()

	if amount < 0 {
		return ErrInvalidAmount
	}
	ok, err := repo.ReserveCredits(ctx, l.DB, userID, amount)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	exists, err := repo.UserExists(ctx, l.DB, userID)
	if err != nil {
		return err
	}
	if !exists {
		reservationsRejected.WithLabelValues("user_not_found").Inc()
		return ErrUserNotFound
	}
	reservationsRejected.WithLabelValues("insufficient_credits").Inc()
	return ErrInsufficientCredits
}

// Refund credits amount back to userID with no upper bound.
func (l *CreditLedger) Refund(ctx context.Context, userID string, amount int64) error {
	ctx, span := otel.Tracer("services/CreditLedger").Start(ctx, "Refund",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount)))
	defer span.End()

	if amount < 0 {
		return ErrInvalidAmount
	}
	ok, err := repo.AddCredits(ctx, l.DB, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// Grant sets the balance of userID to exactly amount.
func (l *CreditLedger) Grant(ctx context.Context, userID string, amount int64) error {
	ctx, span := otel.Tracer("services/CreditLedger").Start(ctx, "Grant",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int64("amount", amount)))
	defer span.End()

	if amount < 0 {
		return ErrInvalidAmount
	}
	ok, err := repo.SetCredits(ctx, l.DB, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// Balance returns the current credits of userID.
func (l *CreditLedger) Balance(ctx context.Context, userID string) (int64, error) {
	ctx, span := otel.Tracer("services/CreditLedger").Start(ctx, "Balance",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	bal, err := repo.GetCredits(ctx, l.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	return bal, err
}
