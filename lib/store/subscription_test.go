package store

import (
	"sync"
	"testing"
	"time"
)

// fakeFilterSource serves queued batches and can be switched to "expired"
type fakeFilterSource struct {
	mu          sync.Mutex
	batches     [][]Event
	expired     bool
	installed   int
	uninstalled int
}

func (f *fakeFilterSource) NewFilter() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed++
	return "0x1", nil
}

func (f *fakeFilterSource) FilterChanges(string) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired {
		return nil, NewError(RetCFilterExpired, "filter not found")
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeFilterSource) UninstallFilter(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalled++
	if f.expired {
		return NewError(RetCFilterExpired, "filter not found")
	}
	return nil
}

func (f *fakeFilterSource) expire() {
	f.mu.Lock()
	f.expired = true
	f.mu.Unlock()
}

func TestPollSubscriptionDispatch(t *testing.T) {
	src := &fakeFilterSource{batches: [][]Event{
		{{Type: EventCreated, Key: "a"}, {Type: EventUpdated, Key: "a"}},
		{{Type: EventExtended, Key: "a", NewExpiresAt: 99}, {Type: EventDeleted, Key: "a"}},
	}}

	got := make(chan string, 8)
	h := EventHandlers{
		OnCreated:  func(ev Event) { got <- "created:" + ev.Key },
		OnUpdated:  func(ev Event) { got <- "updated:" + ev.Key },
		OnExtended: func(ev Event) { got <- "extended:" + ev.Key },
		OnDeleted:  func(ev Event) { got <- "deleted:" + ev.Key },
		OnError:    func(err error) { t.Errorf("unexpected error: %v", err) },
	}

	stop, err := PollSubscription(src, h, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer stop()

	want := []string{"created:a", "updated:a", "extended:a", "deleted:a"}
	for _, w := range want {
		select {
		case g := <-got:
			if g != w {
				t.Fatalf("expected %s, got %s", w, g)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", w)
		}
	}
}

func TestPollSubscriptionExpiredFilterKeepsFailing(t *testing.T) {
	src := &fakeFilterSource{}
	errs := make(chan error, 16)

	stop, err := PollSubscription(src, EventHandlers{OnError: func(err error) { errs <- err }}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	src.expire()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !IsFilterExpiry(err) {
				t.Fatalf("expected filter expiry, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected repeated expiry errors, got %d", i)
		}
	}

	if err := stop(); !IsFilterExpiry(err) {
		t.Errorf("stop on expired filter should report expiry, got %v", err)
	}
	// stopping twice is harmless and does not uninstall again
	_ = stop()
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.uninstalled != 1 {
		t.Errorf("expected one uninstall, got %d", src.uninstalled)
	}
}

func TestPollSubscriptionStopHaltsDelivery(t *testing.T) {
	src := &fakeFilterSource{}
	var mu sync.Mutex
	calls := 0

	stop, err := PollSubscription(src, EventHandlers{OnCreated: func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	}}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	src.mu.Lock()
	src.batches = append(src.batches, []Event{{Type: EventCreated, Key: "late"}})
	src.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("no events may be delivered after stop, got %d", calls)
	}
}
