// Package services – SubscriptionService
//
// SubscriptionService mirrors billing-provider subscriptions locally and keeps
// the credit balance in line with them. Billing events may arrive duplicated
// or out of order:
//
//   - Created is idempotent by external subscription id; a replay returns the
//     stored record and grants nothing.
//   - Updated patches only the fields present in the payload. A cancelled
//     status zeroes the owner's balance; other statuses leave it alone.
//
// Both paths use CreditLedger.Grant, which replaces the balance, and run in a
// single transaction with the subscription write.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

// SubscriptionEvent is the envelope of a billing webhook.
type SubscriptionEvent struct {
	Type string              `json:"type" validate:"required"`
	Data SubscriptionPayload `json:"data"`
}

// SubscriptionPayload is the billing provider's subscription object,
// reduced to the fields the backend stores. Optional fields that were absent
// from the payload stay at their zero value (nil pointers, empty strings,
// invalid EpochMillis) so updates can be applied sparsely.
type SubscriptionPayload struct {
	ID                 string `validate:"required"`
	Status             string
	CustomerID         string
	ProductID          string
	UserID             string
	Credits            *int64
	CurrentPeriodStart domain.EpochMillis
	CurrentPeriodEnd   domain.EpochMillis
	CancelAtPeriodEnd  *bool
}

type subscriptionWire struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	CustomerID      string `json:"customerId"`
	CustomerIDSnake string `json:"customer_id"`
	ProductID       string `json:"productId"`
	ProductIDSnake  string `json:"product_id"`

	CurrentPeriodStart      domain.EpochMillis `json:"currentPeriodStart"`
	CurrentPeriodStartSnake domain.EpochMillis `json:"current_period_start"`
	CurrentPeriodEnd        domain.EpochMillis `json:"currentPeriodEnd"`
	CurrentPeriodEndSnake   domain.EpochMillis `json:"current_period_end"`

	CancelAtPeriodEnd      *bool `json:"cancelAtPeriodEnd"`
	CancelAtPeriodEndSnake *bool `json:"cancel_at_period_end"`

	Metadata map[string]any `json:"metadata"`
	Customer *struct {
		ID              string         `json:"id"`
		ExternalID      string         `json:"externalId"`
		ExternalIDSnake string         `json:"external_id"`
		Metadata        map[string]any `json:"metadata"`
	} `json:"customer"`
	Product *struct {
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"product"`
}

// UnmarshalJSON accepts both camelCase and snake_case field names.
func (p *SubscriptionPayload) UnmarshalJSON(b []byte) error {
	var w subscriptionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := SubscriptionPayload{
		ID:                 strings.TrimSpace(w.ID),
		Status:             strings.TrimSpace(w.Status),
		CustomerID:         firstNonEmpty(w.CustomerID, w.CustomerIDSnake),
		ProductID:          firstNonEmpty(w.ProductID, w.ProductIDSnake),
		CurrentPeriodStart: firstValid(w.CurrentPeriodStart, w.CurrentPeriodStartSnake),
		CurrentPeriodEnd:   firstValid(w.CurrentPeriodEnd, w.CurrentPeriodEndSnake),
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
	}
	if out.CancelAtPeriodEnd == nil {
		out.CancelAtPeriodEnd = w.CancelAtPeriodEndSnake
	}

	out.UserID = metaString(w.Metadata, "userId", "user_id")
	if w.Customer != nil {
		out.CustomerID = firstNonEmpty(out.CustomerID, w.Customer.ID)
		out.UserID = firstNonEmpty(out.UserID,
			metaString(w.Customer.Metadata, "userId", "user_id"),
			w.Customer.ExternalID, w.Customer.ExternalIDSnake)
	}
	if w.Product != nil {
		out.ProductID = firstNonEmpty(out.ProductID, w.Product.ID)
		c, ok, err := metaInt(w.Product.Metadata, "credits")
		if err != nil {
			return err
		}
		if ok {
			out.Credits = &c
		}
	}
	*p = out
	return nil
}

// MappedStatus collapses the provider status to active or cancelled. The
// second result is false for statuses that must not be applied.
func (p SubscriptionPayload) MappedStatus() (domain.SubscriptionStatus, bool) {
	switch strings.ToLower(p.Status) {
	case "active", "trialing":
		return domain.SubscriptionActive, true
	case "canceled", "cancelled", "revoked", "unpaid", "incomplete_expired":
		return domain.SubscriptionCancelled, true
	default:
		return "", false
	}
}

// ParseSubscriptionEvent decodes a verified billing webhook body.
func ParseSubscriptionEvent(body []byte) (SubscriptionEvent, error) {
	var ev SubscriptionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return SubscriptionEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	ev.Type = strings.TrimSpace(ev.Type)
	if err := validate.Var(ev.Type, "required"); err != nil {
		return SubscriptionEvent{}, fmt.Errorf("%w: type: %v", ErrMalformedPayload, err)
	}
	if strings.HasPrefix(ev.Type, "subscription.") {
		if err := validateShape(ev.Data); err != nil {
			return SubscriptionEvent{}, err
		}
	}
	return ev, nil
}

// SubscriptionService reconciles billing subscriptions with local users.
type SubscriptionService struct {
	DB *gorm.DB
}

// HandleEvent dispatches ev by type. It reports whether the event was acted on.
func (s *SubscriptionService) HandleEvent(ctx context.Context, ev SubscriptionEvent) (bool, error) {
	switch {
	case ev.Type == "subscription.created":
		_, _, err := s.Created(ctx, ev.Data)
		return err == nil, err
	case strings.HasPrefix(ev.Type, "subscription."):
		_, err := s.Updated(ctx, ev.Data)
		return err == nil, err
	default:
		zerolog.Ctx(ctx).Debug().Str("type", ev.Type).Msg("billing event ignored")
		return false, nil
	}
}

// Created stores a new subscription and grants its product credits to the
// owner. It returns the stored record and whether this call created it.
func (s *SubscriptionService) Created(ctx context.Context, p SubscriptionPayload) (*domain.Subscription, bool, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Created",
		trace.WithAttributes(
			attribute.String("subscription.id", p.ID),
			attribute.String("user.id", p.UserID),
		),
	)
	defer span.End()
	lg := zerolog.Ctx(ctx).With().Str("subscription_id", p.ID).Str("user_id", p.UserID).Logger()

	if strings.TrimSpace(p.ID) == "" {
		return nil, false, ErrMalformedPayload
	}
	if existing, err := repo.GetSubscriptionByExternalID(ctx, s.DB, p.ID); err == nil {
		lg.Info().Msg("subscription already recorded")
		return existing, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	if strings.TrimSpace(p.UserID) == "" {
		lg.Warn().Msg("subscription carries no user reference")
		return nil, false, ErrUserNotFound
	}

	status, ok := p.MappedStatus()
	if !ok {
		status = domain.SubscriptionActive
	}
	sub := &domain.Subscription{
		ExternalID:         p.ID,
		UserID:             p.UserID,
		CustomerID:         p.CustomerID,
		ProductID:          p.ProductID,
		Status:             status,
		CurrentPeriodStart: p.CurrentPeriodStart.Value,
		CurrentPeriodEnd:   p.CurrentPeriodEnd.Ptr(),
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd != nil && *p.CancelAtPeriodEnd,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := repo.UserExists(ctx, tx, p.UserID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		if err := repo.CreateSubscription(ctx, tx, sub); err != nil {
			return err
		}
		if p.Credits != nil {
			if err := NewCreditLedger(tx).Grant(ctx, p.UserID, *p.Credits); err != nil {
				return err
			}
		} else {
			lg.Warn().Msg("product has no credits metadata, balance unchanged")
		}
		return repo.LinkSubscription(ctx, tx, p.UserID, sub.ID, p.CustomerID)
	})
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		// A concurrent delivery inserted it first.
		existing, gerr := repo.GetSubscriptionByExternalID(ctx, s.DB, p.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	case errors.Is(err, ErrUserNotFound):
		lg.Warn().Msg("subscription for unknown user")
		return nil, false, err
	case err != nil:
		span.RecordError(err)
		return nil, false, err
	}

	lg.Info().Str("status", string(status)).Msg("subscription created")
	return sub, true, nil
}

// Updated applies a sparse update to a known subscription. A cancelled status
// zeroes the owner's balance.
func (s *SubscriptionService) Updated(ctx context.Context, p SubscriptionPayload) (*domain.Subscription, error) {
	ctx, span := otel.Tracer("services/SubscriptionService").Start(ctx, "Updated",
		trace.WithAttributes(
			attribute.String("subscription.id", p.ID),
			attribute.String("subscription.status", p.Status),
		),
	)
	defer span.End()
	lg := zerolog.Ctx(ctx).With().Str("subscription_id", p.ID).Logger()

	sub, err := repo.GetSubscriptionByExternalID(ctx, s.DB, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		lg.Warn().Msg("update for unknown subscription")
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	patch := map[string]any{}
	status, statusOK := p.MappedStatus()
	if statusOK {
		patch["status"] = status
	} else if p.Status != "" {
		lg.Info().Str("status", p.Status).Msg("unmapped subscription status not applied")
	}
	if p.ProductID != "" {
		patch["product_id"] = p.ProductID
	}
	if p.CurrentPeriodStart.Valid {
		patch["current_period_start"] = p.CurrentPeriodStart.Value
	}
	if p.CurrentPeriodEnd.Valid {
		patch["current_period_end"] = p.CurrentPeriodEnd.Value
	}
	if p.CancelAtPeriodEnd != nil {
		patch["cancel_at_period_end"] = *p.CancelAtPeriodEnd
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if statusOK && status == domain.SubscriptionCancelled {
			err := NewCreditLedger(tx).Grant(ctx, sub.UserID, 0)
			if errors.Is(err, ErrUserNotFound) {
				lg.Warn().Str("user_id", sub.UserID).Msg("owner missing, balance not reset")
			} else if err != nil {
				return err
			}
		}
		return repo.PatchSubscription(ctx, tx, sub.ID, patch)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	updated, err := repo.GetSubscriptionByExternalID(ctx, s.DB, p.ID)
	if err != nil {
		return nil, err
	}
	lg.Info().Str("status", string(updated.Status)).Msg("subscription updated")
	return updated, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func firstValid(vals ...domain.EpochMillis) domain.EpochMillis {
	for _, v := range vals {
		if v.Valid {
			return v
		}
	}
	return domain.EpochMillis{}
}

func metaString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				if s := strings.TrimSpace(t); s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64)
			}
		}
	}
	return ""
}

// metaInt reads an integer that metadata may carry as a number or a string.
func metaInt(m map[string]any, key string) (int64, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, false, fmt.Errorf("%w: metadata %s must be a whole number, got %v", ErrMalformedPayload, key, t)
		}
		return int64(t), true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: metadata %s: %v", ErrMalformedPayload, key, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("%w: metadata %s has type %T", ErrMalformedPayload, key, v)
	}
}
