package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	logx "coinbot/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "coinbot.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenIsRepeatable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "coinbot.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		_ = st.Close()
	}
}

func TestAccountsCreditAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	if _, err := st.Account(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing account err = %v", err)
	}
	a, err := st.Credit(ctx, 1, "alice", 50)
	if err != nil || a.Balance != 50 || a.Username != "alice" {
		t.Fatalf("Credit = %+v, %v", a, err)
	}
	if _, err := st.Credit(ctx, 1, "", -80); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw err = %v", err)
	}
	if _, err := st.Credit(ctx, 2, "bob", 0); err != nil {
		t.Fatal(err)
	}

	n, err := st.ResetDaily(ctx, 10)
	if err != nil || n != 2 {
		t.Fatalf("ResetDaily = %d, %v", n, err)
	}
	a, _ = st.Account(ctx, 1)
	if a.Balance != 60 || a.DailyClaimed || a.Username != "alice" {
		t.Fatalf("after reset = %+v", a)
	}
}

func TestTicketsAndSettle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	if _, err := st.BuyTickets(ctx, 7, 1, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown buyer err = %v", err)
	}
	_, _ = st.Credit(ctx, 7, "carol", 100)
	_, _ = st.Credit(ctx, 8, "dave", 15)

	h, err := st.BuyTickets(ctx, 7, 3, 10)
	if err != nil || h.Tickets != 3 {
		t.Fatalf("BuyTickets = %+v, %v", h, err)
	}
	if h, _ = st.BuyTickets(ctx, 7, 2, 10); h.Tickets != 5 || h.Paid != 50 {
		t.Fatalf("tickets accumulate, got %+v", h)
	}
	if _, err := st.BuyTickets(ctx, 8, 2, 10); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("poor buyer err = %v", err)
	}
	if _, err := st.BuyTickets(ctx, 8, 0, 10); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero tickets err = %v", err)
	}

	hs, err := st.Tickets(ctx)
	if err != nil || len(hs) != 1 || hs[0].UserID != 7 || hs[0].Paid != 50 {
		t.Fatalf("Tickets = %+v, %v", hs, err)
	}

	at := time.Date(2026, time.October, 23, 17, 0, 0, 0, time.UTC)
	r, err := st.SettleDraw(ctx, DrawResult{At: at, WinnerID: 7, Pot: 50, Tickets: 5, Entrants: 1})
	if err != nil || r.ID == 0 {
		t.Fatalf("SettleDraw = %+v, %v", r, err)
	}
	if hs, _ := st.Tickets(ctx); len(hs) != 0 {
		t.Fatalf("tickets not cleared: %+v", hs)
	}
	a, _ := st.Account(ctx, 7)
	if a.Balance != 100 {
		t.Fatalf("winner balance = %d, want 100", a.Balance)
	}
	last, err := st.LastDraw(ctx)
	if err != nil || last.ID != r.ID || !last.At.Equal(at) || last.Pot != 50 {
		t.Fatalf("LastDraw = %+v, %v", last, err)
	}
}

func TestBuyTicketsRejectsOversizedPurchases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	_, _ = st.Credit(ctx, 1, "erin", 10)

	cases := []struct {
		name  string
		count int
		price int64
	}{
		{"huge count", 1 << 62, 4},
		{"cost overflows", MaxTickets, math.MaxInt64 / 2},
		{"over holding cap", MaxTickets + 1, 0},
	}
	for _, tc := range cases {
		if _, err := st.BuyTickets(ctx, 1, tc.count, tc.price); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}

	if _, err := st.BuyTickets(ctx, 1, MaxTickets, 0); err != nil {
		t.Fatalf("free tickets up to the cap: %v", err)
	}
	if _, err := st.BuyTickets(ctx, 1, 1, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("holding past the cap err = %v", err)
	}
	a, _ := st.Account(ctx, 1)
	if a.Balance != 10 {
		t.Fatalf("balance = %d, want 10", a.Balance)
	}
	if hs, _ := st.Tickets(ctx); len(hs) != 1 || hs[0].Tickets != MaxTickets {
		t.Fatalf("Tickets = %+v", hs)
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	base := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

	if _, err := st.SaveEvent(ctx, Event{Title: ""}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid event err = %v", err)
	}
	e, err := st.SaveEvent(ctx, Event{Title: "Raid night", ChatID: -100, StartsAt: base.Add(48 * time.Hour)})
	if err != nil || e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("SaveEvent = %+v, %v", e, err)
	}
	if _, err := st.SaveEvent(ctx, Event{ID: "past", Title: "Old", ChatID: -100, StartsAt: base.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	moved := e
	moved.StartsAt = base.Add(24 * time.Hour)
	moved.Title = "Raid night (moved)"
	got, err := st.SaveEvent(ctx, moved)
	if err != nil || !got.StartsAt.Equal(moved.StartsAt) || !got.CreatedAt.Equal(e.CreatedAt) {
		t.Fatalf("update = %+v, %v", got, err)
	}

	upcoming, err := st.EventsAfter(ctx, base)
	if err != nil || len(upcoming) != 1 || upcoming[0].ID != e.ID {
		t.Fatalf("EventsAfter = %+v, %v", upcoming, err)
	}

	if err := st.DeleteEvent(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteEvent(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if _, err := st.Event(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted event err = %v", err)
	}
}

func TestJobRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	tick := time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC)

	for i, job := range []string{"economy.reset", "draw.weekly", "remind_1_0s"} {
		r := JobRun{At: tick.Add(time.Duration(i) * time.Second), Job: job, Tick: tick, TookMS: int64(i)}
		if job == "draw.weekly" {
			r.Err = "panic: boom"
		}
		if err := st.AppendRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := st.RecentRuns(ctx, 2)
	if err != nil || len(runs) != 2 {
		t.Fatalf("RecentRuns = %+v, %v", runs, err)
	}
	if runs[0].Job != "remind_1_0s" || runs[1].Job != "draw.weekly" || runs[1].Err != "panic: boom" {
		t.Fatalf("order/content wrong: %+v", runs)
	}
	if !runs[0].Tick.Equal(tick) {
		t.Fatalf("tick = %v", runs[0].Tick)
	}
}
