package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"bluhub/device"
	"bluhub/models"
)

// fakeClient is a scriptable device client. Per-address delays simulate slow
// devices; fail makes every query after the first error out.
type fakeClient struct {
	mu       sync.Mutex
	statuses map[string]models.PlaybackStatus
	delays   map[string]time.Duration
	failFrom map[string]int
	calls    map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses: make(map[string]models.PlaybackStatus),
		delays:   make(map[string]time.Duration),
		failFrom: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeClient) Query(ctx context.Context, address string) (models.PlaybackStatus, error) {
	f.mu.Lock()
	f.calls[address]++
	call := f.calls[address]
	st := f.statuses[address]
	delay := f.delays[address]
	failFrom := f.failFrom[address]
	f.mu.Unlock()

	if delay > 0 {
		// Deliberately ignores ctx: models a client whose response lands
		// after the caller already gave up.
		time.Sleep(delay)
	}
	if failFrom > 0 && call >= failFrom {
		return models.PlaybackStatus{}, device.ErrUnavailable
	}
	st.CapturedAt = time.Now()
	return st, nil
}

func (f *fakeClient) SyncStatus(ctx context.Context, address string) (device.SyncInfo, error) {
	return device.SyncInfo{}, device.ErrUnavailable
}

func (f *fakeClient) Command(ctx context.Context, address string, action device.Action, params map[string]string) error {
	return nil
}

func (f *fakeClient) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func testPlayer(id, address string) models.Player {
	return models.Player{ID: id, Address: address, Name: "Player " + id}
}

func TestCurrentWithoutSelection(t *testing.T) {
	s := NewSynchronizer(newFakeClient(), time.Hour)

	st, stale := s.Current()
	if !stale {
		t.Error("expected stale with nothing selected")
	}
	if st.State != models.StateUnknown {
		t.Errorf("state = %s; want unknown", st.State)
	}
	if s.Target() != nil {
		t.Error("expected nil target")
	}
}

func TestSelectPollsImmediately(t *testing.T) {
	client := newFakeClient()
	client.statuses["10.0.0.1:11000"] = models.PlaybackStatus{
		State: models.StatePlaying, Title: "Song A",
	}

	// Long interval: the only poll that can happen is the immediate one.
	s := NewSynchronizer(client, time.Hour)
	s.Select(testPlayer("A", "10.0.0.1:11000"))
	defer s.Deselect()

	waitFor(t, time.Second, func() bool {
		st, stale := s.Current()
		return !stale && st.Title == "Song A"
	})
}

func TestFailureKeepsLastKnownGoodUntilStale(t *testing.T) {
	client := newFakeClient()
	client.statuses["10.0.0.1:11000"] = models.PlaybackStatus{
		State: models.StatePlaying, Title: "Song A",
	}
	client.failFrom["10.0.0.1:11000"] = 2 // first poll succeeds, rest fail

	interval := 25 * time.Millisecond
	s := NewSynchronizer(client, interval)
	s.Select(testPlayer("A", "10.0.0.1:11000"))
	defer s.Deselect()

	waitFor(t, time.Second, func() bool {
		st, _ := s.Current()
		return st.Title == "Song A"
	})

	// Polling keeps retrying at the fixed rate despite failures.
	waitFor(t, time.Second, func() bool {
		return client.callCount("10.0.0.1:11000") >= 4
	})

	// The last-known-good status is never overwritten, it ages into stale.
	waitFor(t, time.Second, func() bool {
		st, stale := s.Current()
		return stale && st.Title == "Song A" && st.State == models.StatePlaying
	})
}

func TestDeselectStopsPolling(t *testing.T) {
	client := newFakeClient()
	client.statuses["10.0.0.1:11000"] = models.PlaybackStatus{State: models.StatePlaying}

	interval := 20 * time.Millisecond
	s := NewSynchronizer(client, interval)
	s.Select(testPlayer("A", "10.0.0.1:11000"))

	waitFor(t, time.Second, func() bool {
		return client.callCount("10.0.0.1:11000") >= 2
	})

	s.Deselect()
	after := client.callCount("10.0.0.1:11000")

	time.Sleep(5 * interval)
	if got := client.callCount("10.0.0.1:11000"); got != after {
		t.Errorf("polling continued after Deselect: %d -> %d calls", after, got)
	}

	if _, stale := s.Current(); !stale {
		t.Error("expected stale after Deselect")
	}
	if s.Target() != nil {
		t.Error("expected nil target after Deselect")
	}
}

func TestSwitchDiscardsLateResponse(t *testing.T) {
	client := newFakeClient()
	client.statuses["10.0.0.1:11000"] = models.PlaybackStatus{
		State: models.StatePlaying, Title: "Old Target",
	}
	client.statuses["10.0.0.2:11000"] = models.PlaybackStatus{
		State: models.StatePaused, Title: "New Target",
	}
	// The old target answers slowly; its response lands after the switch.
	client.delays["10.0.0.1:11000"] = 80 * time.Millisecond

	s := NewSynchronizer(client, time.Hour)
	s.Select(testPlayer("A", "10.0.0.1:11000"))
	s.Select(testPlayer("B", "10.0.0.2:11000"))
	defer s.Deselect()

	if target := s.Target(); target == nil || target.ID != "B" {
		t.Fatalf("target = %+v; want B", target)
	}

	waitFor(t, time.Second, func() bool {
		st, stale := s.Current()
		return !stale && st.Title == "New Target"
	})

	// Give the slow response every chance to land, then confirm it did not
	// overwrite the new target's status.
	time.Sleep(150 * time.Millisecond)
	st, _ := s.Current()
	if st.Title != "New Target" {
		t.Errorf("title = %q; late response from old target leaked through", st.Title)
	}
}

func TestRapidReselect(t *testing.T) {
	client := newFakeClient()
	for _, addr := range []string{"10.0.0.1:11000", "10.0.0.2:11000"} {
		client.statuses[addr] = models.PlaybackStatus{State: models.StatePlaying}
	}

	s := NewSynchronizer(client, 10*time.Millisecond)
	players := []models.Player{
		testPlayer("A", "10.0.0.1:11000"),
		testPlayer("B", "10.0.0.2:11000"),
	}

	// Hammer target switches from several goroutines; selectMu must keep the
	// cancel-then-start sequences from interleaving.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Select(players[i%2])
		}(i)
	}
	wg.Wait()
	s.Deselect()

	if s.Target() != nil {
		t.Error("expected nil target after final Deselect")
	}
}
