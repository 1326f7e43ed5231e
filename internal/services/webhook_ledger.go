package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

// WebhookDelivery describes one verified inbound webhook request.
type WebhookDelivery struct {
	Provider  string
	EventID   string // delivery id header; derived from the payload hash when empty
	EventType string
	Payload   []byte
}

// WebhookLedger records deliveries so redeliveries of an already processed
// event can be acknowledged without re-running business logic.
type WebhookLedger struct {
	DB *gorm.DB
}

// Begin records d and reports whether it was already processed successfully.
// The returned id is passed to Finish.
func (l *WebhookLedger) Begin(ctx context.Context, d WebhookDelivery) (id string, duplicate bool, err error) {
	eventID := strings.TrimSpace(d.EventID)
	if eventID == "" {
		sum := sha256.Sum256(d.Payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	payload := d.Payload
	if !json.Valid(payload) {
		// keep undecodable bodies for inspection as a JSON string
		payload, _ = json.Marshal(string(d.Payload))
	}

	ev := &domain.WebhookEvent{
		Provider:       d.Provider,
		EventID:        eventID,
		EventType:      d.EventType,
		Payload:        datatypes.JSON(payload),
		SignatureValid: true,
	}
	created, stored, err := repo.CreateWebhookEventIfNotExists(ctx, l.DB, ev)
	if err != nil {
		return "", false, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return stored.ID, true, nil
	}
	return stored.ID, false, nil
}

// Finish stamps the delivery processed, recording procErr when non-nil.
func (l *WebhookLedger) Finish(ctx context.Context, id string, procErr error) error {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	return repo.MarkWebhookProcessed(ctx, l.DB, id, msg)
}
