package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(time.UTC, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"interval", Spec{Interval: time.Second}, false},
		{"cron", Spec{Cron: "*/5 * * * *"}, false},
		{"both", Spec{Interval: time.Second, Cron: "* * * * *"}, true},
		{"neither", Spec{}, true},
		{"negative", Spec{Interval: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.spec.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWithSeconds(t *testing.T) {
	if withSeconds("*/5 * * * *") {
		t.Error("5 fields reported as having seconds")
	}
	if !withSeconds("30 */5 * * * *") {
		t.Error("6 fields not reported as having seconds")
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	if err := s.Add("record", Spec{Interval: 30 * time.Millisecond}, func(context.Context) { runs.Add(1) }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	time.Sleep(200 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := runs.Load(); n < 2 {
		t.Errorf("runs = %d, want at least 2", n)
	}
}

func TestRunOnStart(t *testing.T) {
	s := newTestScheduler(t)
	ran := make(chan struct{}, 1)
	err := s.Add("record", Spec{Interval: time.Hour, RunOnStart: true}, func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestRunsNeverOverlap(t *testing.T) {
	s := newTestScheduler(t)
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		runs    int
	)
	task := func(context.Context) {
		mu.Lock()
		active++
		runs++
		maxSeen = max(maxSeen, active)
		mu.Unlock()

		time.Sleep(80 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
	}
	if err := s.Add("slow", Spec{Interval: 10 * time.Millisecond}, task); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	time.Sleep(300 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxSeen)
	}
	if runs == 0 {
		t.Error("job never ran")
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	var finished atomic.Bool
	var ctxErrDuringRun atomic.Value
	err := s.Add("record", Spec{Interval: time.Hour, RunOnStart: true}, func(ctx context.Context) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		if ctx.Err() != nil {
			ctxErrDuringRun.Store(ctx.Err())
		}
		finished.Store(true)
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	<-started
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the running job finished")
	}
	if v := ctxErrDuringRun.Load(); v != nil {
		t.Errorf("job context cancelled while running: %v", v)
	}
}

func TestStopWaitsPastDefaultGocronTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a job for 11s")
	}
	s, err := New(time.UTC, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan struct{})
	var finished atomic.Bool
	err = s.Add("record", Spec{Interval: time.Hour, RunOnStart: true}, func(context.Context) {
		close(started)
		time.Sleep(11 * time.Second)
		finished.Store(true)
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	<-started
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before an 11s job finished")
	}
}

func TestStopTimeoutElapses(t *testing.T) {
	s, err := New(time.UTC, nil, WithStopTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	err = s.Add("record", Spec{Interval: time.Hour, RunOnStart: true}, func(context.Context) {
		close(started)
		<-release
		close(done)
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	<-started

	if err := s.Stop(); !errors.Is(err, ErrStopTimedOut) {
		t.Errorf("Stop = %v, want ErrStopTimedOut", err)
	}
	close(release)
	<-done
}

func TestAddDuplicateName(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) {}
	if err := s.Add("record", Spec{Interval: time.Minute}, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("record", Spec{Interval: time.Minute}, noop); err == nil {
		t.Fatal("duplicate Add succeeded")
	}
}

func TestAddInvalidCron(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Add("record", Spec{Cron: "not a cron"}, func(context.Context) {}); err == nil {
		t.Fatal("Add with invalid cron succeeded")
	}
}

func TestCronNextRunAndListJobs(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Add("record", Spec{Cron: "0 0 * * *"}, func(context.Context) {}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	defer s.Stop()

	next, err := s.NextRun("record")
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	next = next.UTC()
	if next.Hour() != 0 || next.Minute() != 0 || !next.After(time.Now()) {
		t.Errorf("NextRun = %v, want next UTC midnight", next)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "record" || jobs[0].Schedule != "cron 0 0 * * *" {
		t.Errorf("ListJobs = %+v", jobs)
	}
	if _, err := s.NextRun("missing"); err == nil {
		t.Error("NextRun of unknown job succeeded")
	}
}
