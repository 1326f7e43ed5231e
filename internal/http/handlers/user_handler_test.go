package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/services"
)

func TestMe(t *testing.T) {
	users := &stubUsers{user: &domain.User{ID: "u-1", ExternalID: "user_1", Name: "Ada", Credits: 12}}
	h := New(Deps{Users: users})

	r := newEngine("user_1")
	r.GET("/me", h.Me)
	w := do(t, r, http.MethodGet, "/me", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var me MeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me.ID != "user_1" || me.Name != "Ada" || me.Credits != 12 {
		t.Fatalf("me=%+v", me)
	}

	// Signed in but not yet provisioned by the identity webhook.
	r = newEngine("user_2")
	r.GET("/me", h.Me)
	if w := do(t, r, http.MethodGet, "/me", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestCharacters_OptionalUser(t *testing.T) {
	chars := &stubCharacters{}
	h := New(Deps{Characters: chars})

	for _, uid := range []string{"", "user_1"} {
		r := newEngine(uid)
		r.GET("/characters", h.Characters)
		w := do(t, r, http.MethodGet, "/characters", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("uid=%q status=%d", uid, w.Code)
		}
		if chars.lastUser != uid {
			t.Fatalf("service saw %q, want %q", chars.lastUser, uid)
		}
	}
}

func TestEnhancePrompt(t *testing.T) {
	cases := []struct {
		name   string
		uid    string
		body   any
		svc    stubPrompts
		status int
		code   string
	}{
		{"ok", "user_1", EnhancePromptRequest{Prompt: "fox"}, stubPrompts{out: "A fox"}, http.StatusOK, ""},
		{"anonymous", "", EnhancePromptRequest{Prompt: "fox"}, stubPrompts{}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"missing prompt", "user_1", `{}`, stubPrompts{}, http.StatusBadRequest, ErrCodeBadRequest},
		{"disabled", "user_1", EnhancePromptRequest{Prompt: "fox"}, stubPrompts{err: services.ErrPromptEnhancerDisabled}, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"upstream", "user_1", EnhancePromptRequest{Prompt: "fox"}, stubPrompts{err: fmt.Errorf("%w: timeout", services.ErrPromptEnhanceFailed)}, http.StatusBadGateway, ErrCodeUpstreamFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newEngine(tc.uid)
			r.POST("/prompts/enhance", New(Deps{Prompts: tc.svc}).EnhancePrompt)
			w := do(t, r, http.MethodPost, "/prompts/enhance", tc.body, nil)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			if tc.code != "" {
				if er := decodeErr(t, w); er.Code != tc.code {
					t.Fatalf("code=%s", er.Code)
				}
				return
			}
			var out EnhancePromptResponse
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Prompt != "A fox" {
				t.Fatalf("out=%+v err=%v", out, err)
			}
		})
	}
}

func TestFeed_Paging(t *testing.T) {
	feed := &stubFeed{res: &services.FeedPage{Items: []services.FeedItem{}, Page: 3, PageSize: 100}}
	h := New(Deps{Feed: feed})
	r := newEngine("")
	r.GET("/feed/images", h.FeedImages)
	r.GET("/feed/videos", h.FeedVideos)

	w := do(t, r, http.MethodGet, "/feed/images?page=3&page_size=1000", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if feed.page != 3 || feed.size != 100 {
		t.Fatalf("page=%d size=%d", feed.page, feed.size)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=15" {
		t.Fatalf("cache-control=%q", cc)
	}

	do(t, r, http.MethodGet, "/feed/videos?page=-1", nil, nil)
	if feed.page != 1 || feed.size != 20 {
		t.Fatalf("defaults: page=%d size=%d", feed.page, feed.size)
	}
}

func TestFeed_Error(t *testing.T) {
	h := New(Deps{Feed: &stubFeed{err: fmt.Errorf("db")}})
	r := newEngine("")
	r.GET("/feed/images", h.FeedImages)
	w := do(t, r, http.MethodGet, "/feed/images", nil, nil)
	if w.Code != http.StatusInternalServerError || w.Header().Get("Cache-Control") != "" {
		t.Fatalf("status=%d cc=%q", w.Code, w.Header().Get("Cache-Control"))
	}
}
