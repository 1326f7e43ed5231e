// Package handlers wires HTTP endpoints to the application services.
//
// Handlers are transport-thin: they bind and bound inputs, resolve the
// caller, delegate to a service and translate the result (or a service
// sentinel error) into an HTTP response.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/auth"
	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/services"
	"github.com/tbourn/genstudio-backend/internal/signature"
)

//
// Service contracts (context-aware)
//

// GenerationService submits generation jobs and lists the caller's history.
type GenerationService interface {
	Submit(ctx context.Context, userID string, kind domain.JobKind, p services.GenerationParams) (*services.SubmitResult, error)
	Recent(ctx context.Context, userID string, kind domain.JobKind, limit int) ([]domain.GenerationJob, error)
	RecentStats(ctx context.Context, userID string, kind domain.JobKind) (int64, *time.Time, error)
	Claim(ctx context.Context, userID string, kind domain.JobKind, key string) (*services.SubmitResult, bool, error)
	Remember(ctx context.Context, userID string, kind domain.JobKind, key, jobID string, status int) error
	Release(ctx context.Context, userID string, kind domain.JobKind, key string) error
}

// FeedService pages through the public gallery.
type FeedService interface {
	Page(ctx context.Context, kind domain.JobKind, page, pageSize int) (*services.FeedPage, error)
}

// UserService resolves profiles and applies identity events.
type UserService interface {
	Current(ctx context.Context, externalID string) (*domain.User, error)
	HandleIdentityEvent(ctx context.Context, ev services.IdentityEvent) (bool, error)
}

// CharacterService lists reference characters.
type CharacterService interface {
	List(ctx context.Context, userID string) (*services.CharacterList, error)
}

// PromptService rewrites prompts.
type PromptService interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// Reconciler applies generation callbacks.
type Reconciler interface {
	Reconcile(ctx context.Context, kind domain.JobKind, o services.Outcome) (*services.ReconcileResult, error)
}

// SubscriptionService applies billing events.
type SubscriptionService interface {
	HandleEvent(ctx context.Context, ev services.SubscriptionEvent) (bool, error)
}

// DeliveryLedger records inbound webhook deliveries.
type DeliveryLedger interface {
	Begin(ctx context.Context, d services.WebhookDelivery) (id string, duplicate bool, err error)
	Finish(ctx context.Context, id string, procErr error) error
}

//
// Handler wiring
//

// Deps collects the collaborators of Handlers. Nil webhook verifiers reject
// every delivery on that endpoint.
type Deps struct {
	Generations   GenerationService
	Feed          FeedService
	Users         UserService
	Characters    CharacterService
	Prompts       PromptService
	Reconciler    Reconciler
	Subscriptions SubscriptionService
	Deliveries    DeliveryLedger

	IdentityVerifier signature.Verifier
	BillingVerifier  signature.Verifier
	// CallbackToken authenticates generator callbacks. When empty, callbacks
	// are rejected unless InsecureCallbacks is set.
	CallbackToken     string
	InsecureCallbacks bool
	MaxWebhookBytes   int64
}

// Handlers groups all HTTP endpoints.
type Handlers struct {
	d Deps
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	if d.MaxWebhookBytes <= 0 {
		d.MaxWebhookBytes = 1 << 20
	}
	return &Handlers{d: d}
}

// userID returns the authenticated caller, or "" when the route allows
// anonymous access.
func userID(c *gin.Context) string { return auth.UserID(c) }
