// Command server runs the GenStudio HTTP API.
//
// @title                       GenStudio Backend API
// @version                     1.0
// @description                 Credit-metered image and video generation with webhook reconciliation.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/auth"
	"github.com/tbourn/genstudio-backend/internal/cache"
	"github.com/tbourn/genstudio-backend/internal/config"
	httpapi "github.com/tbourn/genstudio-backend/internal/http"
	"github.com/tbourn/genstudio-backend/internal/observability"
	"github.com/tbourn/genstudio-backend/internal/provider/assets"
	"github.com/tbourn/genstudio-backend/internal/provider/kie"
	"github.com/tbourn/genstudio-backend/internal/provider/openai"
	"github.com/tbourn/genstudio-backend/internal/repo"
	"github.com/tbourn/genstudio-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		_ = godotenv.Load()
	}
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	sysutil.InitLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName, ver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	col, closeCol := collaborators(ctx, db, cfg)
	defer closeCol()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, col, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, db, time.Hour)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// collaborators builds the external clients. Optional ones that are not
// configured are left nil.
func collaborators(ctx context.Context, db *gorm.DB, cfg config.Config) (httpapi.Collaborators, func()) {
	col := httpapi.Collaborators{
		DB:        db,
		Generator: kie.New(cfg.Kie),
	}
	if cfg.Kie.APIKey == "" {
		log.Warn().Msg("KIE_API_KEY not set; submissions will be rejected by the generator")
	}
	switch {
	case cfg.Webhooks.KieCallbackToken != "":
	case cfg.Webhooks.KieCallbackInsecure:
		log.Warn().Msg("KIE_CALLBACK_INSECURE set; generator callbacks are accepted without a token")
	default:
		log.Warn().Msg("KIE_CALLBACK_TOKEN not set; generator callbacks will be rejected")
	}

	store, err := assets.New(ctx, cfg.Assets)
	if err != nil {
		log.Fatal().Err(err).Msg("asset store setup failed")
	}
	if cfg.Assets.Bucket == "" {
		log.Warn().Msg("ASSETS_BUCKET not set; successful callbacks cannot be rehosted")
	}
	col.Assets = store

	if cfg.OpenAI.APIKey != "" {
		col.Enhancer = openai.New(cfg.OpenAI)
	}

	var closeCache func() error
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect failed")
		}
		col.Cache, closeCache = rc, rc.Close
	} else if cfg.Cache.FeedTTL > 0 {
		lc, err := cache.NewLocal(10_000, 64<<20)
		if err != nil {
			log.Fatal().Err(err).Msg("local cache setup failed")
		}
		col.Cache, closeCache = lc, lc.Close
	}

	v, err := auth.NewVerifier(ctx, cfg.Auth)
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		if !cfg.Auth.DevHeader {
			log.Warn().Msg("no token verifier configured; authenticated routes will reject every request")
		}
	case err != nil:
		log.Fatal().Err(err).Msg("auth verifier setup failed")
	default:
		col.Verifier = v
	}

	return col, func() {
		if closeCache != nil {
			_ = closeCache()
		}
	}
}

// purgeIdempotency deletes expired idempotency records every interval.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency records purged")
			}
		}
	}
}
