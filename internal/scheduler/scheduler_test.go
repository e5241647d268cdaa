package scheduler

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// yearly keeps jobs from firing on their own during tests.
const yearly = "0 0 1 1 *"

func TestAdd_Validation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	if err := s.Add("", yearly, noop); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := s.Add("x", yearly, nil); err == nil {
		t.Fatalf("nil func accepted")
	}
	if err := s.Add("bad", "not a cron", noop); err == nil {
		t.Fatalf("invalid cron accepted")
	}
	if err := s.Add("disabled", "", noop); err != nil {
		t.Fatalf("empty cron should disable, got %v", err)
	}
	if err := s.Add("ok", yearly, noop); err != nil {
		t.Fatalf("valid job: %v", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("jobs = %v", got)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Fatalf("RunNow on unknown job should fail")
	}
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan error, 3)

	if err := s.Add("ok-job", yearly, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			done <- errors.New("missing deadline")
			return nil
		}
		done <- nil
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("bad-job", yearly, func(context.Context) error {
		defer func() { done <- nil }()
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("panic-job", yearly, func(context.Context) error {
		defer func() { done <- nil }()
		panic("kaboom")
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start()
	for _, name := range []string{"ok-job", "bad-job", "panic-job"} {
		if err := s.RunNow(name); err != nil {
			t.Fatalf("RunNow(%s): %v", name, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("job %d did not run", i)
		}
	}

	// counters are bumped after fn returns
	deadline := time.Now().Add(2 * time.Second)
	for {
		okRuns := testutil.ToFloat64(jobRuns.WithLabelValues("ok-job", "ok"))
		badRuns := testutil.ToFloat64(jobRuns.WithLabelValues("bad-job", "error"))
		panicRuns := testutil.ToFloat64(jobRuns.WithLabelValues("panic-job", "error"))
		if okRuns == 1 && badRuns == 1 && panicRuns == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics ok=%v bad=%v panic=%v", okRuns, badRuns, panicRuns)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fakeSyncer struct{ calls chan struct{} }

func (f fakeSyncer) Sync(context.Context) (services.SyncResult, error) {
	f.calls <- struct{}{}
	return services.SyncResult{}, nil
}

type fakePurger struct{ calls chan time.Time }

func (f fakePurger) PurgeIdempotency(_ context.Context, now time.Time) (int64, error) {
	f.calls <- now
	return 2, nil
}

func TestRegisterJobs(t *testing.T) {
	s := newTestScheduler(t)
	syncer := fakeSyncer{calls: make(chan struct{}, 1)}
	purger := fakePurger{calls: make(chan time.Time, 1)}

	err := RegisterJobs(s, config.ScheduleConfig{ChatSync: yearly, IdempotencyGC: yearly}, syncer, purger)
	if err != nil {
		t.Fatalf("RegisterJobs: %v", err)
	}
	names := s.Jobs()
	sort.Strings(names)
	if len(names) != 2 || names[0] != JobChatSync || names[1] != JobIdempotencyGC {
		t.Fatalf("jobs = %v", names)
	}

	s.Start()
	_ = s.RunNow(JobChatSync)
	_ = s.RunNow(JobIdempotencyGC)
	select {
	case <-syncer.calls:
	case <-time.After(3 * time.Second):
		t.Fatalf("chat sync did not run")
	}
	select {
	case now := <-purger.calls:
		if now.Location() != time.UTC {
			t.Fatalf("purge time not UTC: %v", now)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("idempotency gc did not run")
	}
}

func TestRegisterJobs_DisabledSync(t *testing.T) {
	s := newTestScheduler(t)
	err := RegisterJobs(s, config.ScheduleConfig{IdempotencyGC: yearly},
		fakeSyncer{calls: make(chan struct{}, 1)}, fakePurger{calls: make(chan time.Time, 1)})
	if err != nil {
		t.Fatalf("RegisterJobs: %v", err)
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != JobIdempotencyGC {
		t.Fatalf("jobs = %v", got)
	}
}

func Test_pairs(t *testing.T) {
	m := pairs([]any{"a", 1, 2, "b", "dangling"})
	if m["a"] != 1 || m["2"] != "b" || m["value"] != "dangling" {
		t.Fatalf("pairs = %#v", m)
	}
}
