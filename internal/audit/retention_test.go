package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return f.removed, f.err
}

type countingLogger struct {
	mu     sync.Mutex
	infos  int
	errors int
}

func (l *countingLogger) Info(string, ...any) {
	l.mu.Lock()
	l.infos++
	l.mu.Unlock()
}

func (l *countingLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func TestNewRetention_Validation(t *testing.T) {
	tests := []struct {
		name     string
		maxAge   time.Duration
		schedule string
		wantErr  bool
	}{
		{"default schedule", 24 * time.Hour, "", false},
		{"descriptor", 24 * time.Hour, "@hourly", false},
		{"cron expression", 24 * time.Hour, "0 4 * * *", false},
		{"zero age", 0, "", true},
		{"negative age", -time.Hour, "", true},
		{"bad schedule", 24 * time.Hour, "every tuesday", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetention(&fakePruner{}, tt.maxAge, tt.schedule, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRetention() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewRetention(&fakePruner{}, 0, "", nil); !errors.Is(err, ErrNoRetention) {
		t.Errorf("zero age error = %v, want ErrNoRetention", err)
	}
}

func TestRetention_RunOnce(t *testing.T) {
	p := &fakePruner{removed: 4}
	r, err := NewRetention(p, 7*24*time.Hour, "", nil)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 4 {
		t.Errorf("removed = %d, want 4", n)
	}
	want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoffs = %v, want [%v]", p.cutoffs, want)
	}
}

func TestRetention_RunLogs(t *testing.T) {
	log := &countingLogger{}
	p := &fakePruner{}
	r, err := NewRetention(p, time.Hour, "", log)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}

	r.run()
	p.err = errors.New("database is locked")
	r.run()

	if log.infos != 1 || log.errors != 1 {
		t.Errorf("infos = %d, errors = %d, want 1 and 1", log.infos, log.errors)
	}
}

func TestRetention_StartStop(t *testing.T) {
	r, err := NewRetention(&fakePruner{}, time.Hour, "", nil)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}

	r.Start()
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestRetention_PrunesRepository(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seed(t, repo,
		Event{EntityID: "lock.a", Kind: KindCommand, CreatedAt: now.Add(-72 * time.Hour)},
		Event{EntityID: "lock.a", Kind: KindCommand, CreatedAt: now.Add(-time.Hour)},
	)

	r, err := NewRetention(repo, 48*time.Hour, "", nil)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
}
