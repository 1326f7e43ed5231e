package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

// newServiceDB opens a migrated in-memory database unique to the test.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func mustUser(t *testing.T, db *gorm.DB, externalID string, credits int64) {
	t.Helper()
	if err := repo.CreateUser(context.Background(), db, &domain.User{
		ExternalID: externalID,
		Name:       "User " + externalID,
		ImageURL:   "https://img.example/" + externalID + ".png",
		Credits:    credits,
	}); err != nil {
		t.Fatalf("seed user %s: %v", externalID, err)
	}
}

func balance(t *testing.T, db *gorm.DB, externalID string) int64 {
	t.Helper()
	bal, err := repo.GetCredits(context.Background(), db, externalID)
	if err != nil {
		t.Fatalf("balance %s: %v", externalID, err)
	}
	return bal
}

func mustJob(t *testing.T, db *gorm.DB, kind domain.JobKind, owner, taskID string, cost int64) *domain.GenerationJob {
	t.Helper()
	j := &domain.GenerationJob{
		Kind:          kind,
		UserID:        owner,
		Model:         "m",
		Prompt:        "a red fox",
		AspectRatio:   "1:1",
		CreditsUsage:  cost,
		ExternalJobID: taskID,
	}
	if err := repo.CreateJob(context.Background(), db, j); err != nil {
		t.Fatalf("seed job %s: %v", taskID, err)
	}
	return j
}

// ----- fakes -----

type submitCall struct {
	kind        domain.JobKind
	model       string
	prompt      string
	imageURLs   []string
	aspectRatio string
	callbackURL string
}

type fakeGenerator struct {
	mu     sync.Mutex
	taskID string
	err    error
	calls  []submitCall
}

func (g *fakeGenerator) record(kind domain.JobKind, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, submitCall{kind, model, prompt, imageURLs, aspectRatio, callbackURL})
	if g.err != nil {
		return "", g.err
	}
	return g.taskID, nil
}

func (g *fakeGenerator) SubmitImageJob(_ context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error) {
	return g.record(domain.KindImage, model, prompt, imageURLs, aspectRatio, callbackURL)
}

func (g *fakeGenerator) SubmitVideoJob(_ context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error) {
	return g.record(domain.KindVideo, model, prompt, imageURLs, aspectRatio, callbackURL)
}

type uploadCall struct {
	sourceURL, fileName, folder string
}

type fakeAssets struct {
	base  string
	err   error
	calls []uploadCall
}

func (a *fakeAssets) Upload(_ context.Context, sourceURL, fileName, folder string) (string, error) {
	a.calls = append(a.calls, uploadCall{sourceURL, fileName, folder})
	if a.err != nil {
		return "", a.err
	}
	return a.base + "/" + folder + "/" + fileName, nil
}
