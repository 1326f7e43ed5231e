package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/auth"
	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/services"
)

// ---------- service stubs ----------

type stubGen struct {
	submitRes  *services.SubmitResult
	submitErr  error
	submits    int
	lastParams services.GenerationParams

	jobs      []domain.GenerationJob
	count     int64
	maxTS     *time.Time
	statsErr  error
	lastLimit int

	replays    map[string]*services.SubmitResult
	inFlight   map[string]bool
	remembered map[string]string
	released   []string
}

func (s *stubGen) Submit(_ context.Context, _ string, _ domain.JobKind, p services.GenerationParams) (*services.SubmitResult, error) {
	s.submits++
	s.lastParams = p
	return s.submitRes, s.submitErr
}

func (s *stubGen) Recent(_ context.Context, _ string, _ domain.JobKind, limit int) ([]domain.GenerationJob, error) {
	s.lastLimit = limit
	return s.jobs, nil
}

func (s *stubGen) RecentStats(context.Context, string, domain.JobKind) (int64, *time.Time, error) {
	return s.count, s.maxTS, s.statsErr
}

func (s *stubGen) Claim(_ context.Context, userID string, kind domain.JobKind, key string) (*services.SubmitResult, bool, error) {
	k := userID + "|" + string(kind) + "|" + key
	if r, ok := s.replays[k]; ok {
		return r, true, nil
	}
	if s.inFlight[k] {
		return nil, false, services.ErrRequestInProgress
	}
	return nil, false, nil
}

func (s *stubGen) Release(_ context.Context, userID string, kind domain.JobKind, key string) error {
	s.released = append(s.released, userID+"|"+string(kind)+"|"+key)
	return nil
}

func (s *stubGen) Remember(_ context.Context, userID string, kind domain.JobKind, key, jobID string, _ int) error {
	if s.remembered == nil {
		s.remembered = map[string]string{}
	}
	s.remembered[userID+"|"+string(kind)+"|"+key] = jobID
	return nil
}

type stubFeed struct {
	page, size int
	res        *services.FeedPage
	err        error
}

func (s *stubFeed) Page(_ context.Context, _ domain.JobKind, page, pageSize int) (*services.FeedPage, error) {
	s.page, s.size = page, pageSize
	return s.res, s.err
}

type stubUsers struct {
	user      *domain.User
	err       error
	events    []services.IdentityEvent
	handleErr error
}

func (s *stubUsers) Current(_ context.Context, externalID string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil || s.user.ExternalID != externalID {
		return nil, services.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubUsers) HandleIdentityEvent(_ context.Context, ev services.IdentityEvent) (bool, error) {
	s.events = append(s.events, ev)
	return s.handleErr == nil, s.handleErr
}

type stubCharacters struct{ lastUser string }

func (s *stubCharacters) List(_ context.Context, userID string) (*services.CharacterList, error) {
	s.lastUser = userID
	return &services.CharacterList{System: []domain.Character{}, Mine: []domain.Character{}}, nil
}

type stubPrompts struct {
	out string
	err error
}

func (s stubPrompts) Enhance(context.Context, string) (string, error) { return s.out, s.err }

type stubReconciler struct {
	calls int
	last  services.Outcome
	res   *services.ReconcileResult
	err   error
}

func (s *stubReconciler) Reconcile(_ context.Context, _ domain.JobKind, o services.Outcome) (*services.ReconcileResult, error) {
	s.calls++
	s.last = o
	return s.res, s.err
}

type stubSubs struct {
	events []services.SubscriptionEvent
	err    error
}

func (s *stubSubs) HandleEvent(_ context.Context, ev services.SubscriptionEvent) (bool, error) {
	s.events = append(s.events, ev)
	return s.err == nil, s.err
}

// memLedger marks a delivery as duplicate once it finished without error.
type memLedger struct {
	mu       sync.Mutex
	done     map[string]bool
	begins   []services.WebhookDelivery
	finished map[string]error
}

func newMemLedger() *memLedger {
	return &memLedger{done: map[string]bool{}, finished: map[string]error{}}
}

func (l *memLedger) Begin(_ context.Context, d services.WebhookDelivery) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.begins = append(l.begins, d)
	id := d.Provider + ":" + d.EventID
	return id, l.done[id], nil
}

func (l *memLedger) Finish(_ context.Context, id string, procErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished[id] = procErr
	if procErr == nil {
		l.done[id] = true
	}
	return nil
}

// fakeVerifier accepts deliveries whose X-Test-Sig header is "good".
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ []byte, h http.Header) error {
	if h.Get("X-Test-Sig") != "good" {
		return errors.New("bad sig")
	}
	return nil
}

// ---------- request helpers ----------

// asUser mimics the auth middleware for a fixed subject ("" = anonymous).
func asUser(uid string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid != "" {
			c.Set(auth.UserIDKey, uid)
		}
		c.Next()
	}
}

func newEngine(uid string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Next()
	})
	r.Use(asUser(uid))
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}
