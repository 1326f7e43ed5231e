// Package services – FeedService
//
// FeedService serves the public gallery of successful generations. Each page
// is enriched with the owners' display name and avatar through one batched
// profile lookup over the distinct owner ids; nothing else about the owner
// leaves the service. Pages are cached for a short TTL when a FeedCache is
// configured.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

const (
	defaultFeedPageSize = 20
	maxFeedPageSize     = 100
)

// FeedCache stores serialised feed pages.
type FeedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// FeedAuthor is the public projection of a job owner.
type FeedAuthor struct {
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
}

// FeedItem is one public gallery entry.
type FeedItem struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Prompt      string      `json:"prompt"`
	Model       string      `json:"model"`
	AspectRatio string      `json:"aspectRatio"`
	ResultURL   string      `json:"resultUrl"`
	CreatedAt   time.Time   `json:"createdAt"`
	Author      *FeedAuthor `json:"author"`
}

// FeedPage is one page of the gallery.
type FeedPage struct {
	Items    []FeedItem `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int64      `json:"total"`
}

// FeedService lists successful jobs across all users.
type FeedService struct {
	DB    *gorm.DB
	Cache FeedCache // optional
	TTL   time.Duration
}

// Page returns one page of successful jobs of kind, newest first.
func (s *FeedService) Page(ctx context.Context, kind domain.JobKind, page, pageSize int) (*FeedPage, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultFeedPageSize
	}
	if pageSize > maxFeedPageSize {
		pageSize = maxFeedPageSize
	}

	ctx, span := otel.Tracer("services/FeedService").Start(ctx, "Page",
		trace.WithAttributes(
			attribute.String("job.kind", string(kind)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	key := fmt.Sprintf("feed:%s:%d:%d", kind, page, pageSize)
	if s.Cache != nil {
		if raw, ok := s.Cache.Get(ctx, key); ok {
			var cached FeedPage
			if err := json.Unmarshal(raw, &cached); err == nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return &cached, nil
			}
		}
	}

	out, err := s.load(ctx, kind, page, pageSize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.Cache != nil && s.TTL > 0 {
		if raw, err := json.Marshal(out); err == nil {
			s.Cache.Set(ctx, key, raw, s.TTL)
		} else {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("feed page not cached")
		}
	}
	return out, nil
}

func (s *FeedService) load(ctx context.Context, kind domain.JobKind, page, pageSize int) (*FeedPage, error) {
	out := &FeedPage{Items: []FeedItem{}, Page: page, PageSize: pageSize}

	total, err := repo.CountSuccessfulJobs(ctx, s.DB, kind)
	if err != nil {
		return nil, err
	}
	out.Total = total
	if total == 0 {
		return out, nil
	}

	jobs, err := repo.ListSuccessfulJobsPage(ctx, s.DB, kind, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(jobs))
	owners := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if _, ok := seen[j.UserID]; ok {
			continue
		}
		seen[j.UserID] = struct{}{}
		owners = append(owners, j.UserID)
	}
	profiles, err := repo.ListUserProfiles(ctx, s.DB, owners)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*FeedAuthor, len(profiles))
	for _, p := range profiles {
		byID[p.ExternalID] = &FeedAuthor{Name: p.Name, ImageURL: p.ImageURL}
	}

	for _, j := range jobs {
		out.Items = append(out.Items, FeedItem{
			ID:          j.ID,
			Kind:        string(j.Kind),
			Prompt:      j.Prompt,
			Model:       j.Model,
			AspectRatio: j.AspectRatio,
			ResultURL:   j.ResultURL,
			CreatedAt:   j.CreatedAt,
			Author:      byID[j.UserID],
		})
	}
	return out, nil
}
