package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

func newGenerationService(db *gorm.DB, gen Generator) *GenerationService {
	return &GenerationService{
		DB:                    db,
		Ledger:                NewCreditLedger(db),
		Generator:             gen,
		Costs:                 map[domain.JobKind]int64{domain.KindImage: 1, domain.KindVideo: 4},
		CallbackBaseURL:       "https://api.example.com/",
		RefundOnSubmitFailure: true,
		MaxPromptRunes:        50,
		IdempotencyTTL:        time.Hour,
	}
}

func validParams() GenerationParams {
	return GenerationParams{Model: "nano-banana", Prompt: "  a red fox  ", AspectRatio: "1:1"}
}

func TestSubmit_Image_ReservesAndPersists(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 3)
	gen := &fakeGenerator{taskID: "task-1"}
	svc := newGenerationService(db, gen)

	p := validParams()
	p.CharacterImageURL = "https://cdn.example/char.png"
	p.ObjectImageURL = "https://cdn.example/obj.png"
	res, err := svc.Submit(context.Background(), "u1", domain.KindImage, p)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Success || res.TaskID != "task-1" || res.JobID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := balance(t, db, "u1"); got != 2 {
		t.Fatalf("balance want 2, got %d", got)
	}

	job, err := repo.FindJobByExternalID(context.Background(), db, domain.KindImage, "task-1")
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if job.Status != domain.StatusProcessing || job.CreditsUsage != 1 || job.UserID != "u1" || job.Prompt != "a red fox" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if len(gen.calls) != 1 {
		t.Fatalf("want 1 generator call, got %d", len(gen.calls))
	}
	c := gen.calls[0]
	if c.kind != domain.KindImage || c.callbackURL != "https://api.example.com/webhooks/kie-image" {
		t.Fatalf("unexpected call: %+v", c)
	}
	if len(c.imageURLs) != 2 || c.imageURLs[0] != p.CharacterImageURL || c.imageURLs[1] != p.ObjectImageURL {
		t.Fatalf("reference order wrong: %v", c.imageURLs)
	}
}

func TestSubmit_Video_UsesVideoCostAndCallback(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 10)
	gen := &fakeGenerator{taskID: "veo-1"}
	svc := newGenerationService(db, gen)
	svc.CallbackToken = "s3cret"

	if _, err := svc.Submit(context.Background(), "u1", domain.KindVideo, validParams()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := balance(t, db, "u1"); got != 6 {
		t.Fatalf("balance want 6, got %d", got)
	}
	if got := gen.calls[0].callbackURL; got != "https://api.example.com/webhooks/kie-video?token=s3cret" {
		t.Fatalf("callback url: %s", got)
	}
	if len(gen.calls[0].imageURLs) != 0 {
		t.Fatalf("want no reference images, got %v", gen.calls[0].imageURLs)
	}
}

func TestSubmit_InsufficientCredits_NoSubmissionNoJob(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 3)
	gen := &fakeGenerator{taskID: "t"}
	svc := newGenerationService(db, gen)

	_, err := svc.Submit(context.Background(), "u1", domain.KindVideo, validParams())
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("want ErrInsufficientCredits, got %v", err)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator must not be called")
	}
	if got := balance(t, db, "u1"); got != 3 {
		t.Fatalf("balance changed: %d", got)
	}
	var n int64
	db.Model(&domain.GenerationJob{}).Count(&n)
	if n != 0 {
		t.Fatalf("want no jobs, got %d", n)
	}
}

func TestScenario_VideoWithZeroCredits(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 0)
	gen := &fakeGenerator{taskID: "veo-0"}
	svc := newGenerationService(db, gen)

	res, err := svc.Submit(context.Background(), "u1", domain.KindVideo, validParams())
	if !errors.Is(err, ErrInsufficientCredits) || res != nil {
		t.Fatalf("want ErrInsufficientCredits, got %+v, %v", res, err)
	}
	if got := balance(t, db, "u1"); got != 0 {
		t.Fatalf("balance want 0, got %d", got)
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator must not be called, calls=%d", len(gen.calls))
	}
	var n int64
	db.Model(&domain.GenerationJob{}).Count(&n)
	if n != 0 {
		t.Fatalf("want no job records, got %d", n)
	}
}

func TestSubmit_GeneratorFailure_RefundToggle(t *testing.T) {
	cases := []struct {
		name   string
		refund bool
		want   int64
	}{
		{"refund enabled", true, 5},
		{"refund disabled", false, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newServiceDB(t)
			mustUser(t, db, "u1", 5)
			upstream := errors.New("upstream 500")
			svc := newGenerationService(db, &fakeGenerator{err: upstream})
			svc.RefundOnSubmitFailure = tc.refund

			_, err := svc.Submit(context.Background(), "u1", domain.KindImage, validParams())
			if !errors.Is(err, ErrExternalSubmissionFailed) || !errors.Is(err, upstream) {
				t.Fatalf("want wrapped submission error, got %v", err)
			}
			if got := balance(t, db, "u1"); got != tc.want {
				t.Fatalf("balance want %d, got %d", tc.want, got)
			}
		})
	}
}

func TestSubmit_DuplicateTaskID_ConflictAndRefund(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	mustJob(t, db, domain.KindImage, "u1", "dup", 1)
	svc := newGenerationService(db, &fakeGenerator{taskID: "dup"})

	_, err := svc.Submit(context.Background(), "u1", domain.KindImage, validParams())
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("want ErrDuplicateJob, got %v", err)
	}
	if got := balance(t, db, "u1"); got != 5 {
		t.Fatalf("reservation not compensated: %d", got)
	}
}

func TestSubmit_SameTaskIDAcrossKinds_Allowed(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 10)
	mustJob(t, db, domain.KindImage, "u1", "shared", 1)
	svc := newGenerationService(db, &fakeGenerator{taskID: "shared"})

	if _, err := svc.Submit(context.Background(), "u1", domain.KindVideo, validParams()); err != nil {
		t.Fatalf("video with image task id should succeed: %v", err)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 10)
	gen := &fakeGenerator{taskID: "t"}
	svc := newGenerationService(db, gen)

	cases := []struct {
		name   string
		userID string
		kind   domain.JobKind
		mutate func(*GenerationParams)
		want   error
	}{
		{"no user", "", domain.KindImage, func(*GenerationParams) {}, ErrUnauthenticated},
		{"bad kind", "u1", domain.JobKind("audio"), func(*GenerationParams) {}, ErrInvalidKind},
		{"empty prompt", "u1", domain.KindImage, func(p *GenerationParams) { p.Prompt = "   " }, ErrEmptyPrompt},
		{"long prompt", "u1", domain.KindImage, func(p *GenerationParams) { p.Prompt = strings.Repeat("é", 51) }, ErrTooLong},
		{"no model", "u1", domain.KindImage, func(p *GenerationParams) { p.Model = " " }, ErrInvalidParams},
		{"no aspect", "u1", domain.KindImage, func(p *GenerationParams) { p.AspectRatio = "" }, ErrInvalidParams},
		{"bad ref", "u1", domain.KindImage, func(p *GenerationParams) { p.ObjectImageURL = "ftp://x/y.png" }, ErrInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			if _, err := svc.Submit(context.Background(), tc.userID, tc.kind, p); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
	if len(gen.calls) != 0 {
		t.Fatalf("generator called on invalid input")
	}
	if got := balance(t, db, "u1"); got != 10 {
		t.Fatalf("balance changed on invalid input: %d", got)
	}
}

func TestSubmit_PromptAtLimit_Accepted(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 1)
	svc := newGenerationService(db, &fakeGenerator{taskID: "t"})

	p := validParams()
	p.Prompt = strings.Repeat("é", 50)
	if _, err := svc.Submit(context.Background(), "u1", domain.KindImage, p); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestRecent_NewestFirstAndLimits(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 0)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		j := &domain.GenerationJob{
			Kind: domain.KindImage, UserID: "u1", Model: "m", Prompt: "p", AspectRatio: "1:1",
			CreditsUsage: 1, ExternalJobID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateJob(context.Background(), db, j); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	mustJob(t, db, domain.KindImage, "u2", "other", 1)
	svc := newGenerationService(db, &fakeGenerator{})

	items, err := svc.Recent(context.Background(), "u1", domain.KindImage, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(items) != 2 || items[0].ExternalJobID != "c" || items[1].ExternalJobID != "b" {
		t.Fatalf("unexpected order: %+v", items)
	}

	items, err = svc.Recent(context.Background(), "u1", domain.KindVideo, 0)
	if err != nil || items == nil || len(items) != 0 {
		t.Fatalf("want empty non-nil slice, got %v, %v", items, err)
	}
	if _, err := svc.Recent(context.Background(), "", domain.KindImage, 5); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated, got %v", err)
	}
}

func TestReplayRemember(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	svc := newGenerationService(db, &fakeGenerator{taskID: "task-9"})
	ctx := context.Background()

	if _, ok, err := svc.Replay(ctx, "u1", domain.KindImage, "key-1"); ok || err != nil {
		t.Fatalf("expected no replay, got ok=%v err=%v", ok, err)
	}
	res, err := svc.Submit(ctx, "u1", domain.KindImage, validParams())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.Remember(ctx, "u1", domain.KindImage, "key-1", res.JobID, 200); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := svc.Remember(ctx, "u1", domain.KindImage, "key-1", res.JobID, 200); err != nil {
		t.Fatalf("second remember should be tolerated: %v", err)
	}

	got, ok, err := svc.Replay(ctx, "u1", domain.KindImage, "key-1")
	if err != nil || !ok {
		t.Fatalf("expected replay, got ok=%v err=%v", ok, err)
	}
	if got.JobID != res.JobID || got.TaskID != "task-9" {
		t.Fatalf("replayed %+v, want %+v", got, res)
	}
	if _, ok, _ := svc.Replay(ctx, "u1", domain.KindVideo, "key-1"); ok {
		t.Fatalf("key must be scoped by kind")
	}
}

// gatedGenerator holds every submission until release is closed.
type gatedGenerator struct {
	fakeGenerator
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGenerator) SubmitImageJob(ctx context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.fakeGenerator.SubmitImageJob(ctx, model, prompt, imageURLs, aspectRatio, callbackURL)
}

// submitWithKey runs the same claim, submit, remember/release sequence as
// the HTTP handler.
func submitWithKey(ctx context.Context, svc *GenerationService, userID string, kind domain.JobKind, key string) (*SubmitResult, bool, error) {
	prev, replayed, err := svc.Claim(ctx, userID, kind, key)
	if err != nil || replayed {
		return prev, replayed, err
	}
	res, err := svc.Submit(ctx, userID, kind, validParams())
	if err != nil {
		_ = svc.Release(ctx, userID, kind, key)
		return nil, false, err
	}
	return res, false, svc.Remember(ctx, userID, kind, key, res.JobID, 200)
}

func TestClaim_ConcurrentSameKeyChargesOnce(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	gen := &gatedGenerator{
		fakeGenerator: fakeGenerator{taskID: "task-once"},
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	svc := newGenerationService(db, gen)
	ctx := context.Background()

	type outcome struct {
		res *SubmitResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, _, err := submitWithKey(ctx, svc, "u1", domain.KindImage, "k1")
		first <- outcome{res, err}
	}()
	<-gen.entered

	if _, _, err := submitWithKey(ctx, svc, "u1", domain.KindImage, "k1"); !errors.Is(err, ErrRequestInProgress) {
		t.Fatalf("second in-flight request: want ErrRequestInProgress, got %v", err)
	}
	close(gen.release)
	got := <-first
	if got.err != nil {
		t.Fatalf("first request: %v", got.err)
	}

	var jobs int64
	db.Model(&domain.GenerationJob{}).Count(&jobs)
	if jobs != 1 || balance(t, db, "u1") != 4 {
		t.Fatalf("jobs=%d balance=%d, want jobs=1 balance=4", jobs, balance(t, db, "u1"))
	}

	again, replayed, err := submitWithKey(ctx, svc, "u1", domain.KindImage, "k1")
	if err != nil || !replayed || again.JobID != got.res.JobID {
		t.Fatalf("retry after completion: res=%+v replayed=%v err=%v", again, replayed, err)
	}
	if balance(t, db, "u1") != 4 {
		t.Fatalf("replay charged credits")
	}
}

func TestClaim_ReleasedAfterFailureAllowsRetry(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	gen := &fakeGenerator{err: errors.New("upstream down")}
	svc := newGenerationService(db, gen)
	ctx := context.Background()

	if _, _, err := submitWithKey(ctx, svc, "u1", domain.KindImage, "k2"); !errors.Is(err, ErrExternalSubmissionFailed) {
		t.Fatalf("want ErrExternalSubmissionFailed, got %v", err)
	}
	gen.err, gen.taskID = nil, "task-2"
	res, replayed, err := submitWithKey(ctx, svc, "u1", domain.KindImage, "k2")
	if err != nil || replayed || res.TaskID != "task-2" {
		t.Fatalf("retry: res=%+v replayed=%v err=%v", res, replayed, err)
	}
	if got := balance(t, db, "u1"); got != 4 {
		t.Fatalf("balance want 4, got %d", got)
	}
}
