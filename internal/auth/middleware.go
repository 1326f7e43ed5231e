package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderUserID carries a trusted user id when MiddlewareConfig.DevHeader is on.
const HeaderUserID = "X-User-ID"

// MiddlewareConfig controls auth enforcement behavior.
type MiddlewareConfig struct {
	// Optional lets anonymous requests through; a present but invalid token
	// is still rejected.
	Optional bool
	// DevHeader trusts X-User-ID when no bearer token is sent. Local use only.
	DevHeader bool
	// Unauthorized writes the 401 response. Defaults to a bare JSON body.
	Unauthorized func(c *gin.Context, message string)
}

// Middleware verifies the bearer token and stores the subject under UserIDKey
// and the claims in the request context.
func Middleware(verifier *Verifier, cfg MiddlewareConfig) gin.HandlerFunc {
	deny := cfg.Unauthorized
	if deny == nil {
		deny = func(c *gin.Context, message string) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": message})
		}
	}

	return func(c *gin.Context) {
		lg := zerolog.Ctx(c.Request.Context())
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			if cfg.DevHeader {
				if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
					setSubject(c, &Claims{Subject: uid, Issuer: "dev-header"})
					c.Next()
					return
				}
			}
			if cfg.Optional {
				c.Next()
				return
			}
			lg.Debug().Str("path", c.Request.URL.Path).Msg("auth failure: missing Authorization header")
			deny(c, "missing authorization header")
			return
		}

		if verifier == nil {
			deny(c, "auth verifier not configured")
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			lg.Debug().Str("path", c.Request.URL.Path).Msg("auth failure: malformed Authorization header")
			deny(c, "invalid authorization header")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			lg.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("auth failure: token invalid")
			deny(c, "invalid token")
			return
		}

		setSubject(c, claims)
		c.Next()
	}
}

func setSubject(c *gin.Context, claims *Claims) {
	c.Set(UserIDKey, claims.Subject)
	ctx := WithClaims(c.Request.Context(), claims)
	c.Request = c.Request.WithContext(ctx)
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
