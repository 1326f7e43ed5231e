package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/genstudio-backend/internal/config"
)

const defaultLeeway = 30 * time.Second

// ErrNotConfigured is returned by NewVerifier when neither a JWKS URL nor an
// HMAC secret is configured.
var ErrNotConfigured = errors.New("auth: no key source configured")

// Verifier validates bearer tokens. Tokens are checked against the identity
// provider's JWKS when a URL is configured, and against a shared HMAC secret
// otherwise.
type Verifier struct {
	issuer   string
	audience string
	keyfunc  jwt.Keyfunc
	parser   *jwt.Parser
}

// NewVerifier builds a verifier from cfg. The JWKS is refreshed in the
// background until ctx is cancelled.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (*Verifier, error) {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	opts := []jwt.ParserOption{jwt.WithLeeway(leeway), jwt.WithExpirationRequired()}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}

	v := &Verifier{issuer: cfg.Issuer, audience: cfg.Audience}
	switch {
	case cfg.JWKSURL != "":
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("auth: init JWKS keyfunc: %w", err)
		}
		v.keyfunc = kf.Keyfunc
		opts = append(opts, jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name,
			jwt.SigningMethodES256.Name,
		}))
	case cfg.HMACSecret != "":
		secret := []byte(cfg.HMACSecret)
		v.keyfunc = func(*jwt.Token) (any, error) { return secret, nil }
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	default:
		return nil, ErrNotConfigured
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// Verify parses and validates a token, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{
		Subject:   readString(mapClaims, "sub"),
		Issuer:    readString(mapClaims, "iss"),
		Audience:  readAudience(mapClaims["aud"]),
		ExpiresAt: readExpiry(mapClaims["exp"]),
		Raw:       mapClaims,
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	return claims, nil
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func readAudience(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func readExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}
