// Webhook HTTP handlers.
//
// This file exposes the inbound provider endpoints:
//   - POST /webhooks/clerk       (identity events, Svix-signed)
//   - POST /webhooks/polar       (subscription events, Standard Webhooks)
//   - POST /webhooks/kie-image   (image job callbacks, ?token=)
//   - POST /webhooks/kie-video   (video job callbacks, ?token=)
//
// Every delivery is authenticated over the raw body, recorded in the
// delivery ledger and only then processed. A redelivery of an event that was
// already processed successfully is acknowledged without side effects.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/http/middleware"
	"github.com/tbourn/genstudio-backend/internal/services"
	"github.com/tbourn/genstudio-backend/internal/signature"
)

// Webhook provider names recorded in the delivery ledger.
const (
	ProviderClerk = "clerk"
	ProviderPolar = "polar"
	ProviderKie   = "kie"
)

// WebhookAck is the body returned for accepted deliveries.
type WebhookAck struct {
	Received  bool                     `json:"received"`
	Duplicate bool                     `json:"duplicate,omitempty"`
	Handled   bool                     `json:"handled"`
	Result    *services.ReconcileResult `json:"result,omitempty"`
}

type webhookRoute struct {
	provider  string
	eventID   string
	eventType string
	verify    func(body []byte) error
	process   func(ctx context.Context, body []byte) (WebhookAck, error)
}

// ClerkWebhook godoc
// @ID          clerkWebhook
// @Summary     Identity provider events
// @Description user.created / user.updated upsert the local user; user.deleted removes it.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       svix-id         header  string  true  "Delivery id"
// @Param       svix-timestamp  header  string  true  "Unix timestamp"
// @Param       svix-signature  header  string  true  "Signature list"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Router      /webhooks/clerk [post]
func (h *Handlers) ClerkWebhook(c *gin.Context) {
	h.webhook(c, webhookRoute{
		provider: ProviderClerk,
		eventID:  c.GetHeader("svix-id"),
		verify:   verifyWith(h.d.IdentityVerifier, c.Request.Header),
		process: func(ctx context.Context, body []byte) (WebhookAck, error) {
			ev, err := services.ParseIdentityEvent(body)
			if err != nil {
				return WebhookAck{}, err
			}
			handled, err := h.d.Users.HandleIdentityEvent(ctx, ev)
			return WebhookAck{Received: true, Handled: handled}, err
		},
	})
}

// PolarWebhook godoc
// @ID          polarWebhook
// @Summary     Billing subscription events
// @Description subscription.created grants the plan's credits; other subscription.* events patch the record.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       webhook-id         header  string  true  "Delivery id"
// @Param       webhook-timestamp  header  string  true  "Unix timestamp"
// @Param       webhook-signature  header  string  true  "Signature list"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown user or subscription"
// @Router      /webhooks/polar [post]
func (h *Handlers) PolarWebhook(c *gin.Context) {
	h.webhook(c, webhookRoute{
		provider: ProviderPolar,
		eventID:  c.GetHeader("webhook-id"),
		verify:   verifyWith(h.d.BillingVerifier, c.Request.Header),
		process: func(ctx context.Context, body []byte) (WebhookAck, error) {
			ev, err := services.ParseSubscriptionEvent(body)
			if err != nil {
				return WebhookAck{}, err
			}
			handled, err := h.d.Subscriptions.HandleEvent(ctx, ev)
			return WebhookAck{Received: true, Handled: handled}, err
		},
	})
}

// KieImageWebhook godoc
// @ID          kieImageWebhook
// @Summary     Image job callback
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       token  query  string  false  "Callback token"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown task"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /webhooks/kie-image [post]
func (h *Handlers) KieImageWebhook(c *gin.Context) {
	h.callback(c, domain.KindImage, services.ParseImageCallback)
}

// KieVideoWebhook godoc
// @ID          kieVideoWebhook
// @Summary     Video job callback
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       token  query  string  false  "Callback token"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown task"
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /webhooks/kie-video [post]
func (h *Handlers) KieVideoWebhook(c *gin.Context) {
	h.callback(c, domain.KindVideo, services.ParseVideoCallback)
}

func (h *Handlers) callback(c *gin.Context, kind domain.JobKind, parse func([]byte) (services.Outcome, error)) {
	token := c.Query("token")
	h.webhook(c, webhookRoute{
		provider:  ProviderKie,
		eventType: "kie." + string(kind),
		verify: func([]byte) error {
			if h.d.CallbackToken == "" {
				if h.d.InsecureCallbacks {
					return nil
				}
				return signature.ErrNoSecret
			}
			if !signature.TokenMatches(h.d.CallbackToken, token) {
				return services.ErrInvalidSignature
			}
			return nil
		},
		process: func(ctx context.Context, body []byte) (WebhookAck, error) {
			o, err := parse(body)
			if err != nil {
				return WebhookAck{}, err
			}
			res, err := h.d.Reconciler.Reconcile(ctx, kind, o)
			if err != nil {
				return WebhookAck{}, err
			}
			return WebhookAck{Received: true, Handled: res.Applied, Result: res}, nil
		},
	})
}

func (h *Handlers) webhook(c *gin.Context, rt webhookRoute) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c).With().Str("provider", rt.provider).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.d.MaxWebhookBytes))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}
	if err := rt.verify(body); err != nil {
		lg.Warn().Err(err).Msg("webhook rejected")
		failErr(c, services.ErrInvalidSignature)
		return
	}

	eventType := rt.eventType
	if eventType == "" {
		eventType = peekType(body)
	}
	id, dup, err := h.d.Deliveries.Begin(ctx, services.WebhookDelivery{
		Provider:  rt.provider,
		EventID:   rt.eventID,
		EventType: eventType,
		Payload:   body,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if dup {
		lg.Info().Str("delivery_id", id).Msg("duplicate webhook delivery acknowledged")
		ok(c, http.StatusOK, WebhookAck{Received: true, Duplicate: true})
		return
	}

	ack, procErr := rt.process(ctx, body)
	if err := h.d.Deliveries.Finish(ctx, id, procErr); err != nil {
		lg.Error().Err(err).Str("delivery_id", id).Msg("webhook delivery not marked processed")
	}
	if procErr != nil {
		lg.Warn().Err(procErr).Str("event_type", eventType).Msg("webhook processing failed")
		failErr(c, procErr)
		return
	}
	ok(c, http.StatusOK, ack)
}

func verifyWith(v signature.Verifier, hdr http.Header) func([]byte) error {
	return func(body []byte) error {
		if v == nil {
			return signature.ErrNoSecret
		}
		if err := v.Verify(body, hdr); err != nil {
			return errors.Join(services.ErrInvalidSignature, err)
		}
		return nil
	}
}

// peekType reads the top-level "type" field for the ledger; decoding errors
// are left to the event parser.
func peekType(body []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Type
}
