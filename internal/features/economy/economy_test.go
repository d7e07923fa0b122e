package economy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	"coinbot/internal/task/schedule"
	kit "coinbot/internal/transport"
	logx "coinbot/pkg/logx"
)

type sentMessage struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "coinbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestApplyUpsertsSingleJob(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	f := New(reg, logx.Nop())

	cfg := Config{Enabled: true, DailyAllowance: 50, Location: time.UTC}
	for i := 0; i < 3; i++ {
		if err := f.Apply(cfg); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	jobs := reg.List()
	if len(jobs) != 1 || jobs[0].ID != JobID || jobs[0].Group != Group {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Schedule.Expr() != DefaultSchedule {
		t.Fatalf("schedule = %q", jobs[0].Schedule.Expr())
	}

	cfg.Schedule = "0 0 6 * * *"
	if err := f.Apply(cfg); err != nil {
		t.Fatal(err)
	}
	if got := reg.List()[0].Schedule.Expr(); got != "0 0 6 * * *" {
		t.Fatalf("schedule after reload = %q", got)
	}

	if err := f.Apply(Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Fatalf("disabled feature left %d jobs", reg.Len())
	}
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	err := New(reg, logx.Nop()).Apply(Config{Enabled: true, Schedule: "every day", Location: time.UTC})
	if !errors.Is(err, schedule.ErrInvalidSchedule) {
		t.Fatalf("err = %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("invalid job must not be registered")
	}
}

func TestResetCreditsAndAnnounces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	for _, id := range []int64{1, 2} {
		if _, err := st.Credit(ctx, id, "", 10); err != nil {
			t.Fatal(err)
		}
	}

	reg := registry.New()
	target := kit.ChatTarget{ChatID: -100, ThreadID: 3}
	if err := New(reg, logx.Nop()).Apply(Config{Enabled: true, DailyAllowance: 1500, Announce: target, Location: time.UTC}); err != nil {
		t.Fatal(err)
	}
	chat := &fakeSender{}
	res := registry.Resources{Chat: chat, Store: st, Log: logx.Nop()}
	if err := reg.List()[0].Action(ctx, res); err != nil {
		t.Fatalf("action: %v", err)
	}

	a, err := st.Account(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if a.Balance != 1510 || a.DailyClaimed {
		t.Fatalf("account = %+v", a)
	}
	if len(chat.sent) != 1 || chat.sent[0].to != target {
		t.Fatalf("sent = %+v", chat.sent)
	}
	if !strings.Contains(chat.sent[0].text, "1,500 coins credited to 2 accounts") {
		t.Fatalf("text = %q", chat.sent[0].text)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	if got := Summary(1, 10); got != "Daily reset done: 10 coins credited to 1 account." {
		t.Fatalf("Summary = %q", got)
	}
	if got := Summary(0, 10); !strings.Contains(got, "No accounts") {
		t.Fatalf("Summary = %q", got)
	}
}
