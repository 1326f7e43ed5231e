// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/docs"
	"github.com/tbourn/genstudio-backend/internal/auth"
	"github.com/tbourn/genstudio-backend/internal/config"
	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/http/handlers"
	"github.com/tbourn/genstudio-backend/internal/http/middleware"
	"github.com/tbourn/genstudio-backend/internal/repo"
	"github.com/tbourn/genstudio-backend/internal/services"
	"github.com/tbourn/genstudio-backend/internal/signature"
)

// Collaborators are the external systems the API is built on. Enhancer and
// Cache are optional; a nil Verifier leaves only the dev header (if enabled).
type Collaborators struct {
	DB        *gorm.DB
	Generator services.Generator
	Assets    services.AssetHost
	Enhancer  services.Enhancer
	Cache     services.FeedCache
	Verifier  *auth.Verifier
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and builds the services behind them.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter, gzip
//  6. Metrics
//  7. CORS and Security headers
//
// Inside the API group: authentication, then idempotency (so a replay can
// bypass the limiter), then the per-caller rate limiter.
func RegisterRoutes(r *gin.Engine, col Collaborators, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"Svix-Signature", "Webhook-Signature"},
		MaskQuery:   []string{"token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.Webhooks.MaxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(newDeps(col, cfg))

	unauthorized := func(c *gin.Context, msg string) {
		handlers.Fail(c, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, msg)
	}
	requireUser := auth.Middleware(col.Verifier, auth.MiddlewareConfig{
		DevHeader:    cfg.Auth.DevHeader,
		Unauthorized: unauthorized,
	})
	optionalUser := auth.Middleware(col.Verifier, auth.MiddlewareConfig{
		Optional:     true,
		DevHeader:    cfg.Auth.DevHeader,
		Unauthorized: unauthorized,
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	lookup := idempotencyLookup(col.DB)
	idem := func(kind domain.JobKind) gin.HandlerFunc {
		return middleware.IdempotencyValidator(middleware.IdempotencyOptions{
			Scope: func(*gin.Context) string { return string(kind) },
		}, lookup)
	}
	noStore := middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true})

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Public gallery and characters
		api.GET("/feed/images", h.FeedImages)
		api.GET("/feed/videos", h.FeedVideos)
		api.GET("/characters", optionalUser, h.Characters)

		// Caller-scoped
		me := api.Group("", requireUser, noStore)
		me.GET("/me", h.Me)
		me.GET("/generations/images", h.ListImages)
		me.GET("/generations/videos", h.ListVideos)
		me.POST("/generations/images", idem(domain.KindImage), rl.Handler(), h.SubmitImage)
		me.POST("/generations/videos", idem(domain.KindVideo), rl.Handler(), h.SubmitVideo)
		me.POST("/prompts/enhance", rl.Handler(), h.EnhancePrompt)
	}

	// Provider callbacks authenticate by signature or token, not by caller.
	wh := r.Group("/webhooks")
	{
		wh.POST("/clerk", h.ClerkWebhook)
		wh.POST("/polar", h.PolarWebhook)
		wh.POST("/kie-image", h.KieImageWebhook)
		wh.POST("/kie-video", h.KieVideoWebhook)
	}
}

// newDeps builds the services behind the handlers.
func newDeps(col Collaborators, cfg config.Config) handlers.Deps {
	ledger := services.NewCreditLedger(col.DB)
	d := handlers.Deps{
		Generations: &services.GenerationService{
			DB:        col.DB,
			Ledger:    ledger,
			Generator: col.Generator,
			Costs: map[domain.JobKind]int64{
				domain.KindImage: cfg.Credits.ImageCost,
				domain.KindVideo: cfg.Credits.VideoCost,
			},
			CallbackBaseURL:       cfg.PublicBaseURL,
			CallbackToken:         cfg.Webhooks.KieCallbackToken,
			RefundOnSubmitFailure: cfg.Credits.RefundOnSubmit,
			MaxPromptRunes:        cfg.MaxPromptRunes,
			IdempotencyTTL:        cfg.IdempotencyTTL,
		},
		Feed:       &services.FeedService{DB: col.DB, Cache: col.Cache, TTL: cfg.Cache.FeedTTL},
		Users:      &services.UserService{DB: col.DB, SignupCredits: cfg.Credits.SignupCredits},
		Characters: &services.CharacterService{DB: col.DB},
		Prompts:    &services.PromptService{Enhancer: col.Enhancer, MaxPromptRunes: cfg.MaxPromptRunes},
		Reconciler: &services.ReconciliationService{
			DB:     col.DB,
			Assets: col.Assets,
			Folders: map[domain.JobKind]string{
				domain.KindImage: cfg.Assets.ImageFolder,
				domain.KindVideo: cfg.Assets.VideoFolder,
			},
		},
		Subscriptions:   &services.SubscriptionService{DB: col.DB},
		Deliveries:      &services.WebhookLedger{DB: col.DB},
		CallbackToken:     cfg.Webhooks.KieCallbackToken,
		InsecureCallbacks: cfg.Webhooks.KieCallbackInsecure,
		MaxWebhookBytes:   cfg.Webhooks.MaxBodyBytes,
	}
	// Without a secret the verifier stays nil and the endpoint rejects everything.
	if v, err := signature.NewSvix(cfg.Webhooks.ClerkSecret); err == nil {
		d.IdentityVerifier = v
	} else {
		log.Warn().Err(err).Msg("identity webhooks disabled")
	}
	if v, err := signature.NewRaw(cfg.Webhooks.PolarSecret); err == nil {
		d.BillingVerifier = v
	} else {
		log.Warn().Err(err).Msg("billing webhooks disabled")
	}
	return d
}

func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if err != nil || rec == nil || rec.Pending() {
			return false, nil
		}
		return true, nil
	}
}

func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", auth.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}
	base.AllowOrigins = origins
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps every request body at maxBytes; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
