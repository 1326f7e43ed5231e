package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

// IdentityEvent is the envelope of an identity-provider webhook.
type IdentityEvent struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

// IdentityUser is the user object carried by user.created and user.updated.
type IdentityUser struct {
	ID             string  `json:"id" validate:"required"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	ImageURL       string  `json:"image_url"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

// identityRef is the payload of user.deleted.
type identityRef struct {
	ID string `json:"id" validate:"required"`
}

// DisplayName joins first and last name, skipping missing parts.
func (u IdentityUser) DisplayName() string {
	parts := make([]string, 0, 2)
	for _, p := range []*string{u.FirstName, u.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " ")
}

// PrimaryEmail returns the first listed address or "".
func (u IdentityUser) PrimaryEmail() string {
	if len(u.EmailAddresses) == 0 {
		return ""
	}
	return strings.TrimSpace(u.EmailAddresses[0].EmailAddress)
}

// ParseIdentityEvent decodes a verified identity webhook body.
func ParseIdentityEvent(body []byte) (IdentityEvent, error) {
	var ev IdentityEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return IdentityEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validateShape(ev); err != nil {
		return IdentityEvent{}, err
	}
	return ev, nil
}

// UserService manages local user records mirrored from the identity provider.
type UserService struct {
	DB *gorm.DB

	// SignupCredits is the balance granted to users on first sight.
	SignupCredits int64
}

// HandleIdentityEvent dispatches ev by type. It reports whether the event was acted on.
func (s *UserService) HandleIdentityEvent(ctx context.Context, ev IdentityEvent) (bool, error) {
	switch ev.Type {
	case "user.created", "user.updated":
		var u IdentityUser
		if err := json.Unmarshal(ev.Data, &u); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := validateShape(u); err != nil {
			return false, err
		}
		_, err := s.UpsertFromIdentity(ctx, u)
		return err == nil, err
	case "user.deleted":
		var ref identityRef
		if err := json.Unmarshal(ev.Data, &ref); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := validateShape(ref); err != nil {
			return false, err
		}
		return true, s.DeleteByExternalID(ctx, ref.ID)
	default:
		zerolog.Ctx(ctx).Debug().Str("type", ev.Type).Msg("identity event ignored")
		return false, nil
	}
}

// UpsertFromIdentity creates the user with signup credits or refreshes the
// profile of an existing one. Credits of existing users are never touched.
func (s *UserService) UpsertFromIdentity(ctx context.Context, u IdentityUser) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "UpsertFromIdentity")
	span.SetAttributes(attribute.String("user.id", u.ID))
	defer span.End()

	name, email := u.DisplayName(), u.PrimaryEmail()
	err := repo.UpdateUserProfile(ctx, s.DB, u.ID, name, email, u.ImageURL)
	if err == nil {
		return repo.GetUserByExternalID(ctx, s.DB, u.ID)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	user := &domain.User{
		ExternalID: u.ID,
		Name:       name,
		Email:      email,
		ImageURL:   u.ImageURL,
		Credits:    s.SignupCredits,
	}
	if err := repo.CreateUser(ctx, s.DB, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// created concurrently by a parallel delivery
			if err := repo.UpdateUserProfile(ctx, s.DB, u.ID, name, email, u.ImageURL); err != nil {
				return nil, err
			}
			return repo.GetUserByExternalID(ctx, s.DB, u.ID)
		}
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("user_id", u.ID).Int64("credits", s.SignupCredits).Msg("user created")
	return user, nil
}

// DeleteByExternalID removes the user. An unknown user is logged, not an error.
func (s *UserService) DeleteByExternalID(ctx context.Context, externalID string) error {
	err := repo.DeleteUserByExternalID(ctx, s.DB, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("user_id", externalID).Msg("delete for unknown user")
		return nil
	}
	return err
}

// Current returns the caller's profile including the credit balance.
func (s *UserService) Current(ctx context.Context, externalID string) (*domain.User, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrUnauthenticated
	}
	u, err := repo.GetUserByExternalID(ctx, s.DB, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}
