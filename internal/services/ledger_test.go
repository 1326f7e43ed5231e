package services

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"
)

func TestLedger_ReserveThenRefund_RestoresBalance(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	l := NewCreditLedger(db)
	ctx := context.Background()

	if err := l.Reserve(ctx, "u1", 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := balance(t, db, "u1"); got != 1 {
		t.Fatalf("after reserve want 1, got %d", got)
	}
	if err := l.Refund(ctx, "u1", 4); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := balance(t, db, "u1"); got != 5 {
		t.Fatalf("after refund want 5, got %d", got)
	}
}

func TestLedger_Reserve_Insufficient_LeavesBalance(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 3)
	l := NewCreditLedger(db)

	err := l.Reserve(context.Background(), "u1", 4)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("want ErrInsufficientCredits, got %v", err)
	}
	if got := balance(t, db, "u1"); got != 3 {
		t.Fatalf("balance changed: %d", got)
	}
}

func TestLedger_Reserve_ExactBalance_ReachesZero(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 4)

	if err := NewCreditLedger(db).Reserve(context.Background(), "u1", 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := balance(t, db, "u1"); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
}

func TestLedger_UnknownUser(t *testing.T) {
	db := newServiceDB(t)
	l := NewCreditLedger(db)
	ctx := context.Background()

	if err := l.Reserve(ctx, "ghost", 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("reserve: want ErrUserNotFound, got %v", err)
	}
	if err := l.Refund(ctx, "ghost", 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("refund: want ErrUserNotFound, got %v", err)
	}
	if err := l.Grant(ctx, "ghost", 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("grant: want ErrUserNotFound, got %v", err)
	}
	if _, err := l.Balance(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("balance: want ErrUserNotFound, got %v", err)
	}
}

func TestLedger_NegativeAmount(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 1)
	l := NewCreditLedger(db)
	ctx := context.Background()

	for name, fn := range map[string]func() error{
		"reserve": func() error { return l.Reserve(ctx, "u1", -1) },
		"refund":  func() error { return l.Refund(ctx, "u1", -1) },
		"grant":   func() error { return l.Grant(ctx, "u1", -1) },
	} {
		if err := fn(); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%s: want ErrInvalidAmount, got %v", name, err)
		}
	}
	if got := balance(t, db, "u1"); got != 1 {
		t.Fatalf("balance changed: %d", got)
	}
}

func TestLedger_Grant_ReplacesBalance(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 7)
	l := NewCreditLedger(db)
	ctx := context.Background()

	if err := l.Grant(ctx, "u1", 100); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if got, _ := l.Balance(ctx, "u1"); got != 100 {
		t.Fatalf("want 100, got %d", got)
	}
	if err := l.Grant(ctx, "u1", 0); err != nil {
		t.Fatalf("grant 0: %v", err)
	}
	if got, _ := l.Balance(ctx, "u1"); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
}

func TestLedger_WithTx_RollsBack(t *testing.T) {
	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	boom := errors.New("boom")

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := NewCreditLedger(db).WithTx(tx).Reserve(context.Background(), "u1", 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if got := balance(t, db, "u1"); got != 5 {
		t.Fatalf("rollback expected balance 5, got %d", got)
	}
}

func TestLedger_EveryOperationIsTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	db := newServiceDB(t)
	mustUser(t, db, "u1", 5)
	l := NewCreditLedger(db)
	ctx := context.Background()

	if err := l.Reserve(ctx, "u1", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Refund(ctx, "u1", 1); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := l.Grant(ctx, "u1", 7); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if bal, err := l.Balance(ctx, "u1"); err != nil || bal != 7 {
		t.Fatalf("balance: %d %v", bal, err)
	}

	seen := map[string]bool{}
	for _, s := range rec.Ended() {
		if s.InstrumentationScope().Name == "services/CreditLedger" {
			seen[s.Name()] = true
		}
	}
	for _, name := range []string{"Reserve", "Refund", "Grant", "Balance"} {
		if !seen[name] {
			t.Errorf("no %s span recorded, got %v", name, seen)
		}
	}
}
