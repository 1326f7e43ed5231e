package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

type mapCache struct {
	data map[string][]byte
	sets int
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, val []byte, _ time.Duration) {
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = val
	c.sets++
}

func TestFeed_OnlySuccessfulWithAuthors(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	mustUser(t, db, "u1", 0)
	mustUser(t, db, "u2", 0)
	r := newReconciler(db, &fakeAssets{base: "https://cdn"})

	mustJob(t, db, domain.KindImage, "u1", "a", 1)
	mustJob(t, db, domain.KindImage, "u2", "b", 1)
	mustJob(t, db, domain.KindImage, "u1", "c", 1)
	mustJob(t, db, domain.KindImage, "u1", "pending", 1)
	mustJob(t, db, domain.KindImage, "u2", "failed", 1)
	mustJob(t, db, domain.KindImage, "orphan", "d", 1)
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := r.Reconcile(ctx, domain.KindImage, Outcome{TaskID: id, State: CallbackSuccess, ResultURL: "https://x/" + id + ".png"}); err != nil {
			t.Fatalf("reconcile %s: %v", id, err)
		}
	}
	if _, err := r.Reconcile(ctx, domain.KindImage, Outcome{TaskID: "failed", State: CallbackFailed}); err != nil {
		t.Fatalf("reconcile fail: %v", err)
	}

	svc := &FeedService{DB: db}
	page, err := svc.Page(ctx, domain.KindImage, 1, 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Total != 4 || len(page.Items) != 4 {
		t.Fatalf("want 4 successful items, got total=%d items=%d", page.Total, len(page.Items))
	}
	for _, it := range page.Items {
		if it.ResultURL == "" {
			t.Fatalf("item without result: %+v", it)
		}
		job, _ := repo.GetJob(ctx, db, it.ID)
		switch job.UserID {
		case "orphan":
			if it.Author != nil {
				t.Fatalf("unknown owner must have no author: %+v", it.Author)
			}
		default:
			if it.Author == nil || it.Author.Name != "User "+job.UserID {
				t.Fatalf("author mismatch for %s: %+v", job.UserID, it.Author)
			}
		}
	}

	raw, _ := json.Marshal(page.Items[0])
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	author, _ := fields["author"].(map[string]any)
	if author != nil && len(author) != 2 {
		t.Fatalf("author must expose only name and imageUrl: %v", author)
	}

	videos, err := svc.Page(ctx, domain.KindVideo, 1, 10)
	if err != nil || videos.Total != 0 || videos.Items == nil {
		t.Fatalf("video feed: %+v %v", videos, err)
	}
}

func TestFeed_PaginationDefaultsAndCache(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	mustUser(t, db, "u1", 0)
	r := newReconciler(db, &fakeAssets{base: "https://cdn"})
	for _, id := range []string{"a", "b", "c"} {
		mustJob(t, db, domain.KindVideo, "u1", id, 4)
		if _, err := r.Reconcile(ctx, domain.KindVideo, Outcome{TaskID: id, State: CallbackSuccess, ResultURL: "https://x/" + id + ".mp4"}); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
	}

	cache := &mapCache{}
	svc := &FeedService{DB: db, Cache: cache, TTL: time.Minute}

	p2, err := svc.Page(ctx, domain.KindVideo, 2, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Items) != 1 || p2.Total != 3 || p2.Page != 2 {
		t.Fatalf("unexpected page 2: %+v", p2)
	}
	if cache.sets != 1 {
		t.Fatalf("want page cached, sets=%d", cache.sets)
	}

	// a new success is hidden until the cached page expires
	mustJob(t, db, domain.KindVideo, "u1", "d", 4)
	if _, err := r.Reconcile(ctx, domain.KindVideo, Outcome{TaskID: "d", State: CallbackSuccess, ResultURL: "https://x/d.mp4"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	again, _ := svc.Page(ctx, domain.KindVideo, 2, 2)
	if again.Total != 3 || cache.sets != 1 {
		t.Fatalf("expected cached page, got total=%d sets=%d", again.Total, cache.sets)
	}

	def, _ := svc.Page(ctx, domain.KindVideo, 0, 0)
	if def.Page != 1 || def.PageSize != defaultFeedPageSize {
		t.Fatalf("defaults not applied: %+v", def)
	}
	capped, _ := svc.Page(ctx, domain.KindVideo, 1, 1000)
	if capped.PageSize != maxFeedPageSize {
		t.Fatalf("page size not capped: %d", capped.PageSize)
	}

	if _, err := svc.Page(ctx, domain.JobKind("gif"), 1, 1); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("want ErrInvalidKind, got %v", err)
	}
}
