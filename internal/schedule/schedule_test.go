package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/session"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []session.Submission
}

func (r *recordingSubmitter) Submit(sub session.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func TestSchedulerAddCompactionSubmitsOnSchedule(t *testing.T) {
	sub := &recordingSubmitter{}
	s := New()
	if err := s.AddCompaction("@every 10ms", sub); err != nil {
		t.Fatalf("AddCompaction: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.After(time.Second)
	for sub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never submitted a Compact")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sub.mu.Lock()
	_, ok := sub.subs[0].(session.Compact)
	sub.mu.Unlock()
	if !ok {
		t.Fatalf("expected first submission to be session.Compact, got %+v", sub.subs[0])
	}
}

func TestSchedulerAddJobRunsArbitraryFunc(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	s := New()
	if err := s.AddJob("@every 10ms", func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
