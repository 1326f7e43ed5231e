package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/genstudio-backend/internal/domain"
	"github.com/tbourn/genstudio-backend/internal/repo"
)

func TestCharacterService_List(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	owner := "u1"
	other := "u2"
	base := time.Now().UTC()
	for i, c := range []domain.Character{
		{Name: "sys-old", ImageURL: "https://x/1.png"},
		{Name: "sys-new", ImageURL: "https://x/2.png"},
		{Name: "mine", ImageURL: "https://x/3.png", UserID: &owner},
		{Name: "theirs", ImageURL: "https://x/4.png", UserID: &other},
	} {
		c.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.CreateCharacter(ctx, db, &c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := &CharacterService{DB: db}

	anon, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list anon: %v", err)
	}
	if len(anon.System) != 2 || anon.System[0].Name != "sys-new" || len(anon.Mine) != 0 {
		t.Fatalf("unexpected anonymous list: %+v", anon)
	}

	mine, err := svc.List(ctx, owner)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine.Mine) != 1 || mine.Mine[0].Name != "mine" {
		t.Fatalf("unexpected own list: %+v", mine.Mine)
	}
}

type stubEnhancer struct {
	out string
	err error
	in  string
}

func (s *stubEnhancer) Enhance(_ context.Context, prompt string) (string, error) {
	s.in = prompt
	return s.out, s.err
}

func TestPromptService_Enhance(t *testing.T) {
	ctx := context.Background()

	if _, err := (&PromptService{}).Enhance(ctx, "x"); !errors.Is(err, ErrPromptEnhancerDisabled) {
		t.Fatalf("want disabled, got %v", err)
	}

	st := &stubEnhancer{out: "A cinematic\r\nshot of a fox\n"}
	svc := &PromptService{Enhancer: st, MaxPromptRunes: 10}
	got, err := svc.Enhance(ctx, "  fox  ")
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if got != "A cinematic shot of a fox" || st.in != "fox" {
		t.Fatalf("got %q (input %q)", got, st.in)
	}

	if _, err := svc.Enhance(ctx, " "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("want ErrEmptyPrompt, got %v", err)
	}
	if _, err := svc.Enhance(ctx, "01234567890"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("want ErrTooLong, got %v", err)
	}

	st.out = "  \n "
	if got, _ := svc.Enhance(ctx, "fox"); got != "fox" {
		t.Fatalf("blank enhancement should fall back to input, got %q", got)
	}

	st.err = errors.New("upstream 429")
	if _, err := svc.Enhance(ctx, "fox"); !errors.Is(err, ErrPromptEnhanceFailed) {
		t.Fatalf("want ErrPromptEnhanceFailed, got %v", err)
	}
}
