// Package services – GenerationService
//
// GenerationService implements the submission side of the job protocol:
// authenticate, price, reserve credits, submit to the external generator,
// persist the job in the processing state and hand back a pending reference.
// Completion arrives later through ReconciliationService.
//
// When a failure happens after the reservation but before a job record
// exists, the reservation is refunded if RefundOnSubmitFailure is set, since
// no callback will ever be correlated with it.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100

	callbackPathImage = "/webhooks/kie-image"
	callbackPathVideo = "/webhooks/kie-video"
)

// Generator submits jobs to the external generation API and returns the
// provider's task id.
type Generator interface {
	SubmitImageJob(ctx context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error)
	SubmitVideoJob(ctx context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error)
}

// GenerationParams are the caller-supplied inputs of a submission.
type GenerationParams struct {
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	AspectRatio       string `json:"aspectRatio"`
	CharacterImageURL string `json:"characterImageUrl,omitempty"`
	ObjectImageURL    string `json:"objectImageUrl,omitempty"`
}

// SubmitResult is the pending handle returned to the caller.
type SubmitResult struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId"`
	JobID   string `json:"jobId"`
}

// GenerationService coordinates credit reservation and job submission.
type GenerationService struct {
	DB        *gorm.DB
	Ledger    Ledger
	Generator Generator

	// Costs maps each job kind to its static price in credits.
	Costs map[domain.JobKind]int64

	// CallbackBaseURL is the public origin the provider calls back to.
	CallbackBaseURL string
	// CallbackToken, when set, is appended to callback URLs as ?token=.
	CallbackToken string

	RefundOnSubmitFailure bool
	MaxPromptRunes        int
	IdempotencyTTL        time.Duration
}

// Cost returns the price of kind or ErrInvalidKind.
func (s *GenerationService) Cost(kind domain.JobKind) (int64, error) {
	c, ok := s.Costs[kind]
	if !ok || !kind.Valid() {
		return 0, ErrInvalidKind
	}
	return c, nil
}

// CallbackURL returns the webhook endpoint the provider must call for kind.
func (s *GenerationService) CallbackURL(kind domain.JobKind) string {
	path := callbackPathImage
	if kind == domain.KindVideo {
		path = callbackPathVideo
	}
	u := strings.TrimRight(s.CallbackBaseURL, "/") + path
	if s.CallbackToken != "" {
		u += "?token=" + url.QueryEscape(s.CallbackToken)
	}
	return u
}

// Submit runs the full submission protocol for one job of kind on behalf of userID.
func (s *GenerationService) Submit(ctx context.Context, userID string, kind domain.JobKind, p GenerationParams) (*SubmitResult, error) {
	ctx, span := otel.Tracer("services/GenerationService").Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("job.kind", string(kind)),
		),
	)
	defer span.End()
	lg := zerolog.Ctx(ctx).With().Str("user_id", userID).Str("kind", string(kind)).Logger()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	cost, err := s.Cost(kind)
	if err != nil {
		return nil, err
	}
	p, err = s.normalize(p)
	if err != nil {
		return nil, err
	}

	if err := s.Ledger.Reserve(ctx, userID, cost); err != nil {
		return nil, err
	}
	creditsReserved.WithLabelValues(string(kind)).Add(float64(cost))

	taskID, err := s.submit(ctx, kind, p)
	if err != nil {
		submissions.WithLabelValues(string(kind), "rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		lg.Warn().Err(err).Msg("generator rejected submission")
		s.compensate(ctx, lg, userID, kind, cost)
		return nil, fmt.Errorf("%w: %w", ErrExternalSubmissionFailed, err)
	}
	span.SetAttributes(attribute.String("job.task_id", taskID))

	job := &domain.GenerationJob{
		Kind:              kind,
		UserID:            userID,
		Model:             p.Model,
		Prompt:            p.Prompt,
		AspectRatio:       p.AspectRatio,
		CharacterImageURL: p.CharacterImageURL,
		ObjectImageURL:    p.ObjectImageURL,
		CreditsUsage:      cost,
		ExternalJobID:     taskID,
	}
	if err := repo.CreateJob(ctx, s.DB, job); err != nil {
		submissions.WithLabelValues(string(kind), "persist_failed").Inc()
		lg.Error().Err(err).Str("task_id", taskID).Msg("job record not persisted after submission")
		s.compensate(ctx, lg, userID, kind, cost)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicateJob
		}
		return nil, err
	}

	submissions.WithLabelValues(string(kind), "accepted").Inc()
	lg.Info().Str("job_id", job.ID).Str("task_id", taskID).Int64("credits", cost).Msg("generation submitted")
	return &SubmitResult{Success: true, TaskID: taskID, JobID: job.ID}, nil
}

func (s *GenerationService) submit(ctx context.Context, kind domain.JobKind, p GenerationParams) (string, error) {
	refs := ReferenceImages(p.CharacterImageURL, p.ObjectImageURL)
	cb := s.CallbackURL(kind)
	if kind == domain.KindVideo {
		return s.Generator.SubmitVideoJob(ctx, p.Model, p.Prompt, refs, p.AspectRatio, cb)
	}
	return s.Generator.SubmitImageJob(ctx, p.Model, p.Prompt, refs, p.AspectRatio, cb)
}

func (s *GenerationService) compensate(ctx context.Context, lg zerolog.Logger, userID string, kind domain.JobKind, cost int64) {
	if !s.RefundOnSubmitFailure {
		return
	}
	if err := s.Ledger.Refund(ctx, userID, cost); err != nil {
		lg.Error().Err(err).Int64("credits", cost).Msg("compensating refund failed")
		return
	}
	creditsRefunded.WithLabelValues(string(kind)).Add(float64(cost))
}

func (s *GenerationService) normalize(p GenerationParams) (GenerationParams, error) {
	p.Prompt = strings.TrimSpace(norm.NFC.String(p.Prompt))
	p.Model = strings.TrimSpace(p.Model)
	p.AspectRatio = strings.TrimSpace(p.AspectRatio)
	p.CharacterImageURL = strings.TrimSpace(p.CharacterImageURL)
	p.ObjectImageURL = strings.TrimSpace(p.ObjectImageURL)

	if p.Prompt == "" {
		return p, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(p.Prompt) > s.MaxPromptRunes {
		return p, ErrTooLong
	}
	if p.Model == "" || p.AspectRatio == "" {
		return p, ErrInvalidParams
	}
	for _, ref := range []string{p.CharacterImageURL, p.ObjectImageURL} {
		if ref == "" {
			continue
		}
		u, err := url.Parse(ref)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return p, ErrInvalidParams
		}
	}
	return p, nil
}

// ReferenceImages orders optional reference images: character first, then object.
func ReferenceImages(character, object string) []string {
	out := make([]string, 0, 2)
	if character != "" {
		out = append(out, character)
	}
	if object != "" {
		out = append(out, object)
	}
	return out
}

// Recent returns the caller's most recent jobs of kind, newest first.
func (s *GenerationService) Recent(ctx context.Context, userID string, kind domain.JobKind, limit int) ([]domain.GenerationJob, error) {
	ctx, span := otel.Tracer("services/GenerationService").Start(ctx, "Recent",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("job.kind", string(kind)),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	items, err := repo.ListJobsByOwner(ctx, s.DB, kind, userID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.GenerationJob{}
	}
	return items, nil
}

// RecentStats returns the count and latest update of the caller's jobs of
// kind, used by the HTTP layer to build a weak ETag.
func (s *GenerationService) RecentStats(ctx context.Context, userID string, kind domain.JobKind) (int64, *time.Time, error) {
	return repo.JobsStats(ctx, s.DB, kind, userID)
}

// Replay returns the result of an earlier submission made with the same
// Idempotency-Key, if one is recorded and already bound to a job.
func (s *GenerationService) Replay(ctx context.Context, userID string, kind domain.JobKind, key string) (*SubmitResult, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, string(kind), key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.Pending() {
		return nil, false, nil
	}
	return s.replayRecord(ctx, rec)
}

func (s *GenerationService) replayRecord(ctx context.Context, rec *domain.Idempotency) (*SubmitResult, bool, error) {
	job, err := repo.GetJob(ctx, s.DB, rec.ResourceID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &SubmitResult{Success: true, TaskID: job.ExternalJobID, JobID: job.ID}, true, nil
}

// Claim takes the Idempotency-Key before any credits are reserved. It
// returns (nil, false, nil) when the caller now owns the key and must
// Remember or Release it. A key already bound to a job yields that job's
// result with true. A key held by another in-flight request yields
// ErrRequestInProgress.
func (s *GenerationService) Claim(ctx context.Context, userID string, kind domain.JobKind, key string) (*SubmitResult, bool, error) {
	err := repo.ClaimIdempotency(ctx, s.DB, userID, string(kind), key, s.idempotencyTTL())
	if err == nil {
		return nil, false, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return nil, false, err
	}

	rec, err := repo.GetIdempotency(ctx, s.DB, userID, string(kind), key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, ErrRequestInProgress
	}
	if err != nil {
		return nil, false, err
	}
	if rec.Pending() {
		return nil, false, ErrRequestInProgress
	}
	res, found, err := s.replayRecord(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, ErrRequestInProgress
	}
	return res, true, nil
}

// Remember binds the Idempotency-Key to the created job. Without a prior
// claim a fresh record is written; a concurrent duplicate is not an error.
func (s *GenerationService) Remember(ctx context.Context, userID string, kind domain.JobKind, key, jobID string, status int) error {
	done, err := repo.CompleteIdempotency(ctx, s.DB, userID, string(kind), key, jobID, status)
	if err != nil || done {
		return err
	}
	_, err = repo.CreateIdempotency(ctx, s.DB, userID, string(kind), key, jobID, status, s.idempotencyTTL())
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Release gives up a claim whose submission failed so the client can retry
// with the same key.
func (s *GenerationService) Release(ctx context.Context, userID string, kind domain.JobKind, key string) error {
	return repo.ReleaseIdempotency(ctx, s.DB, userID, string(kind), key)
}

func (s *GenerationService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return s.IdempotencyTTL
}
