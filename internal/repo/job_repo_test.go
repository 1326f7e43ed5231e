package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
)

func seedJob(t *testing.T, db *gorm.DB, kind domain.JobKind, owner, externalID string, createdAt time.Time) *domain.GenerationJob {
	t.Helper()
	j := &domain.GenerationJob{
		Kind: kind, UserID: owner, Model: "m", Prompt: "a cat", AspectRatio: "1:1",
		CreditsUsage: 1, ExternalJobID: externalID, CreatedAt: createdAt,
	}
	if err := CreateJob(context.Background(), db, j); err != nil {
		t.Fatalf("seed job %s: %v", externalID, err)
	}
	return j
}

func TestCreateJob_ForcesProcessingAndRejectsDuplicateExternalID(t *testing.T) {
	db := newTestDB(t, &domain.GenerationJob{})
	ctx := context.Background()

	j := &domain.GenerationJob{Kind: domain.KindImage, UserID: "u1", ExternalJobID: "task-1", Status: domain.StatusSuccess, CreditsUsage: 1}
	if err := CreateJob(ctx, db, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.ID == "" || j.Status != domain.StatusProcessing || j.CreatedAt.IsZero() {
		t.Fatalf("unexpected job after create: %+v", j)
	}

	dup := &domain.GenerationJob{Kind: domain.KindImage, UserID: "u2", ExternalJobID: "task-1", CreditsUsage: 1}
	if err := CreateJob(ctx, db, dup); err != ErrDuplicate {
		t.Fatalf("duplicate external id = %v; want ErrDuplicate", err)
	}

	got, err := FindJobByExternalID(ctx, db, domain.KindImage, "task-1")
	if err != nil || got.ID != j.ID || got.UserID != "u1" {
		t.Fatalf("FindJobByExternalID = %+v, %v", got, err)
	}
	if _, err := FindJobByExternalID(ctx, db, domain.KindVideo, "task-1"); err != ErrNotFound {
		t.Fatalf("lookup under other kind = %v; want ErrNotFound", err)
	}
	if byID, err := GetJob(ctx, db, j.ID); err != nil || byID.ExternalJobID != "task-1" {
		t.Fatalf("GetJob = %+v, %v", byID, err)
	}
}

func TestApplyTerminal_OnlyOnce(t *testing.T) {
	db := newTestDB(t, &domain.GenerationJob{})
	ctx := context.Background()
	seedJob(t, db, domain.KindImage, "u1", "task-1", time.Now().UTC())

	applied, err := ApplyTerminal(ctx, db, domain.KindImage, "task-1", Terminal{Status: domain.StatusSuccess, ResultURL: "https://cdn/a.png"})
	if err != nil || !applied {
		t.Fatalf("first ApplyTerminal = %v, %v", applied, err)
	}

	// Redelivery with a different outcome is a no-op.
	applied, err = ApplyTerminal(ctx, db, domain.KindImage, "task-1", Terminal{Status: domain.StatusFail, FailCode: "500"})
	if err != nil || applied {
		t.Fatalf("second ApplyTerminal = %v, %v; want false, nil", applied, err)
	}
	got, _ := FindJobByExternalID(ctx, db, domain.KindImage, "task-1")
	if got.Status != domain.StatusSuccess || got.ResultURL != "https://cdn/a.png" || got.FailCode != "" {
		t.Fatalf("job mutated by redelivery: %+v", got)
	}

	if _, err := ApplyTerminal(ctx, db, domain.KindImage, "missing", Terminal{Status: domain.StatusFail}); err != ErrNotFound {
		t.Fatalf("ApplyTerminal(missing) = %v; want ErrNotFound", err)
	}
	if _, err := ApplyTerminal(ctx, db, domain.KindImage, "task-1", Terminal{Status: domain.StatusProcessing}); err == nil {
		t.Fatalf("non-terminal status should be rejected")
	}
}

func TestApplyTerminal_FailRecordsReason(t *testing.T) {
	db := newTestDB(t, &domain.GenerationJob{})
	ctx := context.Background()
	seedJob(t, db, domain.KindVideo, "u1", "v-1", time.Now().UTC())

	applied, err := ApplyTerminal(ctx, db, domain.KindVideo, "v-1", Terminal{Status: domain.StatusFail, FailCode: "500", FailMessage: "oom"})
	if err != nil || !applied {
		t.Fatalf("ApplyTerminal = %v, %v", applied, err)
	}
	got, _ := FindJobByExternalID(ctx, db, domain.KindVideo, "v-1")
	if got.Status != domain.StatusFail || got.FailCode != "500" || got.FailMessage != "oom" || got.ResultURL != "" {
		t.Fatalf("unexpected failed job: %+v", got)
	}
}

func TestListJobsByOwner_NewestFirstAndLimited(t *testing.T) {
	db := newTestDB(t, &domain.GenerationJob{})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedJob(t, db, domain.KindImage, "u1", fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*time.Minute))
	}
	seedJob(t, db, domain.KindImage, "u2", "other", base.Add(time.Hour))
	seedJob(t, db, domain.KindVideo, "u1", "vid", base.Add(time.Hour))

	got, err := ListJobsByOwner(ctx, db, domain.KindImage, "u1", 3)
	if err != nil {
		t.Fatalf("ListJobsByOwner: %v", err)
	}
	if len(got) != 3 || got[0].ExternalJobID != "t4" || got[2].ExternalJobID != "t2" {
		t.Fatalf("unexpected order/limit: %+v", got)
	}
}

func TestSuccessfulFeed_ExcludesNonSuccess(t *testing.T) {
	db := newTestDB(t, &domain.GenerationJob{})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		ext := fmt.Sprintf("ok%d", i)
		seedJob(t, db, domain.KindImage, "u1", ext, base.Add(time.Duration(i)*time.Minute))
		if _, err := ApplyTerminal(ctx, db, domain.KindImage, ext, Terminal{Status: domain.StatusSuccess, ResultURL: "https://cdn/" + ext}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	seedJob(t, db, domain.KindImage, "u1", "pending", base.Add(time.Hour))
	seedJob(t, db, domain.KindImage, "u1", "failed", base.Add(2*time.Hour))
	if _, err := ApplyTerminal(ctx, db, domain.KindImage, "failed", Terminal{Status: domain.StatusFail}); err != nil {
		t.Fatalf("apply fail: %v", err)
	}

	total, err := CountSuccessfulJobs(ctx, db, domain.KindImage)
	if err != nil || total != 4 {
		t.Fatalf("CountSuccessfulJobs = %d, %v; want 4", total, err)
	}
	page, err := ListSuccessfulJobsPage(ctx, db, domain.KindImage, 1, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListSuccessfulJobsPage = %+v, %v", page, err)
	}
	if page[0].ExternalJobID != "ok2" || page[1].ExternalJobID != "ok1" {
		t.Fatalf("unexpected page order: %s, %s", page[0].ExternalJobID, page[1].ExternalJobID)
	}
	for _, j := range page {
		if j.Status != domain.StatusSuccess {
			t.Fatalf("feed leaked non-success job: %+v", j)
		}
	}
}
