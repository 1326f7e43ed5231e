// Package services – ReconciliationService
//
// ReconciliationService applies provider callbacks to job records. Every
// terminal transition is conditional on the job still processing, so
// at-least-once delivery is safe: redelivered successes keep their URL and
// redelivered failures never refund twice.
//
// Success: look up the job, re-host the provider URL to durable storage,
// then mark it successful with the durable URL.
// Failure: mark the job failed and refund its CreditsUsage snapshot to the
// owner, in one transaction, only when the transition actually applied.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

// AssetHost copies a remote file to durable storage and returns its URL.
type AssetHost interface {
	Upload(ctx context.Context, sourceURL, fileName, folder string) (string, error)
}

// ReconcileResult reports what a callback did to its job.
type ReconcileResult struct {
	JobID     string           `json:"jobId,omitempty"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Applied   bool             `json:"applied"`
	Refunded  int64            `json:"refunded,omitempty"`
	ResultURL string           `json:"resultUrl,omitempty"`
}

// ReconciliationService applies generation callbacks to job records.
type ReconciliationService struct {
	DB     *gorm.DB
	Assets AssetHost

	// Folders maps each job kind to its destination folder in the asset store.
	Folders map[domain.JobKind]string
}

// Reconcile applies o to the job of kind correlated by o.TaskID.
func (s *ReconciliationService) Reconcile(ctx context.Context, kind domain.JobKind, o Outcome) (*ReconcileResult, error) {
	ctx, span := otel.Tracer("services/ReconciliationService").Start(ctx, "Reconcile",
		trace.WithAttributes(
			attribute.String("job.kind", string(kind)),
			attribute.String("job.task_id", o.TaskID),
			attribute.String("callback.state", string(o.State)),
		),
	)
	defer span.End()

	if strings.TrimSpace(o.TaskID) == "" {
		return nil, ErrMalformedPayload
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}

	var (
		res *ReconcileResult
		err error
	)
	switch o.State {
	case CallbackSuccess:
		res, err = s.succeed(ctx, kind, o)
	case CallbackFailed:
		res, err = s.fail(ctx, kind, o)
	default:
		reconciliations.WithLabelValues(string(kind), "pending").Inc()
		return &ReconcileResult{Applied: false}, nil
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrJobNotFound) {
			reconciliations.WithLabelValues(string(kind), "not_found").Inc()
		}
		return nil, err
	}
	outcome := string(res.Status)
	if !res.Applied {
		outcome = "duplicate"
	}
	reconciliations.WithLabelValues(string(kind), outcome).Inc()
	return res, nil
}

func (s *ReconciliationService) succeed(ctx context.Context, kind domain.JobKind, o Outcome) (*ReconcileResult, error) {
	lg := zerolog.Ctx(ctx).With().Str("kind", string(kind)).Str("task_id", o.TaskID).Logger()

	if strings.TrimSpace(o.ResultURL) == "" {
		return nil, ErrNoResultURL
	}
	job, err := repo.FindJobByExternalID(ctx, s.DB, kind, o.TaskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		lg.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("callback for terminal job ignored")
		return &ReconcileResult{JobID: job.ID, Status: job.Status, Applied: false, ResultURL: job.ResultURL}, nil
	}

	durable, err := s.Assets.Upload(ctx, o.ResultURL, job.ID+resultExt(o.ResultURL, kind), s.Folders[kind])
	if err != nil {
		lg.Error().Err(err).Str("job_id", job.ID).Msg("result re-hosting failed")
		return nil, fmt.Errorf("%w: %w", ErrAssetRehost, err)
	}

	applied, err := repo.ApplyTerminal(ctx, s.DB, kind, o.TaskID, repo.Terminal{
		Status:    domain.StatusSuccess,
		ResultURL: durable,
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent delivery won the transition.
		current, gerr := repo.GetJob(ctx, s.DB, job.ID)
		if gerr != nil {
			return nil, gerr
		}
		return &ReconcileResult{JobID: current.ID, Status: current.Status, Applied: false, ResultURL: current.ResultURL}, nil
	}

	lg.Info().Str("job_id", job.ID).Str("result_url", durable).Msg("job succeeded")
	return &ReconcileResult{JobID: job.ID, Status: domain.StatusSuccess, Applied: true, ResultURL: durable}, nil
}

func (s *ReconciliationService) fail(ctx context.Context, kind domain.JobKind, o Outcome) (*ReconcileResult, error) {
	lg := zerolog.Ctx(ctx).With().Str("kind", string(kind)).Str("task_id", o.TaskID).Logger()

	res := &ReconcileResult{Status: domain.StatusFail}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := repo.ApplyTerminal(ctx, tx, kind, o.TaskID, repo.Terminal{
			Status:      domain.StatusFail,
			FailCode:    o.FailCode,
			FailMessage: o.FailMessage,
		})
		if errors.Is(err, repo.ErrNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		job, err := repo.FindJobByExternalID(ctx, tx, kind, o.TaskID)
		if err != nil {
			return err
		}
		res.JobID = job.ID
		res.Status = job.Status
		res.Applied = applied
		if !applied {
			return nil
		}

		err = NewCreditLedger(tx).Refund(ctx, job.UserID, job.CreditsUsage)
		switch {
		case errors.Is(err, ErrUserNotFound):
			lg.Warn().Str("job_id", job.ID).Str("user_id", job.UserID).Msg("owner missing, refund skipped")
			return nil
		case err != nil:
			return err
		}
		res.Refunded = job.CreditsUsage
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Refunded > 0 {
		creditsRefunded.WithLabelValues(string(kind)).Add(float64(res.Refunded))
	}
	lg.Info().Str("job_id", res.JobID).Bool("applied", res.Applied).Int64("refunded", res.Refunded).
		Str("fail_code", o.FailCode).Msg("job failed")
	return res, nil
}

var knownExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
	".mp4": true, ".webm": true, ".mov": true,
}

// resultExt derives the stored file extension from the provider URL,
// falling back to .png for images and .mp4 for videos.
func resultExt(sourceURL string, kind domain.JobKind) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); knownExts[ext] {
			return ext
		}
	}
	if kind == domain.KindVideo {
		return ".mp4"
	}
	return ".png"
}
