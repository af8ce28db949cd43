package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testTracks(n int) []QueueTrack {
	tracks := make([]QueueTrack, n)
	for i := range tracks {
		tracks[i] = QueueTrack{
			TrackID:         fmt.Sprintf("t%d", i+1),
			Title:           fmt.Sprintf("Track %d", i+1),
			Artist:          "Artist",
			Album:           "Album",
			DurationSeconds: 200 + i,
			IsStreamable:    true,
			TrackNumber:     i + 1,
			DiscNumber:      1,
		}
	}
	return tracks
}

func TestProfileLifecycle(t *testing.T) {
	d := newTestDB(t)

	p, err := d.CreateProfile("Anna")
	if err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected generated profile ID")
	}

	got, err := d.GetProfile(p.ID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.Name != "Anna" {
		t.Errorf("Name = %q; want Anna", got.Name)
	}

	if _, err := d.GetProfile("nope"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("GetProfile(nope) err = %v; want ErrProfileNotFound", err)
	}

	profiles, err := d.ListProfiles()
	if err != nil || len(profiles) != 1 {
		t.Fatalf("ListProfiles = %v, %v; want 1 profile", profiles, err)
	}

	ok, err := d.DeleteProfile(p.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteProfile = %v, %v; want true", ok, err)
	}
	ok, err = d.DeleteProfile(p.ID)
	if err != nil || ok {
		t.Fatalf("second DeleteProfile = %v, %v; want false", ok, err)
	}
}

func TestGetQueueNilWhenNeverSet(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("Anna")

	q, err := d.GetQueue(p.ID)
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if q != nil {
		t.Errorf("expected nil queue, got %+v", q)
	}
}

func TestQueueOpsRequireProfile(t *testing.T) {
	d := newTestDB(t)

	if _, err := d.GetQueue("missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("GetQueue err = %v; want ErrProfileNotFound", err)
	}
	if _, err := d.SetQueue("missing", "album", "a1", "Album", testTracks(1)); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("SetQueue err = %v; want ErrProfileNotFound", err)
	}
	if _, err := d.UpdateQueueIndex("missing", 1); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("UpdateQueueIndex err = %v; want ErrProfileNotFound", err)
	}
	if _, err := d.ClearQueue("missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("ClearQueue err = %v; want ErrProfileNotFound", err)
	}
}

func TestSetQueueReplacesAtomically(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("Anna")

	first, err := d.SetQueue(p.ID, "album", "a1", "First Album", testTracks(3))
	if err != nil {
		t.Fatalf("SetQueue failed: %v", err)
	}
	if len(first.Tracks) != 3 || first.CurrentIndex != 0 {
		t.Fatalf("unexpected queue after first set: %+v", first)
	}

	if _, err := d.UpdateQueueIndex(p.ID, 2); err != nil {
		t.Fatalf("UpdateQueueIndex failed: %v", err)
	}

	// Replace with a shorter queue from a different source. Old tracks are
	// discarded and the index resets.
	second, err := d.SetQueue(p.ID, "playlist", "pl9", "Mix", testTracks(2))
	if err != nil {
		t.Fatalf("second SetQueue failed: %v", err)
	}
	if second.SourceKind != "playlist" || second.SourceID != "pl9" {
		t.Errorf("source = %s/%s; want playlist/pl9", second.SourceKind, second.SourceID)
	}
	if second.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d; want 0 after replace", second.CurrentIndex)
	}
	if len(second.Tracks) != 2 {
		t.Fatalf("len(Tracks) = %d; want 2", len(second.Tracks))
	}
	for i, track := range second.Tracks {
		if track.Position != i {
			t.Errorf("track %d has position %d; want dense 0..n-1", i, track.Position)
		}
	}
}

func TestUpdateIndexStoresVerbatim(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("Anna")

	ok, err := d.UpdateQueueIndex(p.ID, 1)
	if err != nil {
		t.Fatalf("UpdateQueueIndex failed: %v", err)
	}
	if ok {
		t.Error("UpdateQueueIndex without a queue should return false")
	}

	if _, err := d.SetQueue(p.ID, "album", "a1", "Album", testTracks(3)); err != nil {
		t.Fatalf("SetQueue failed: %v", err)
	}

	// Way out of range on purpose: clamping is a read-side responsibility.
	ok, err = d.UpdateQueueIndex(p.ID, 999)
	if err != nil || !ok {
		t.Fatalf("UpdateQueueIndex(999) = %v, %v; want true", ok, err)
	}

	q, err := d.GetQueue(p.ID)
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if q.CurrentIndex != 999 {
		t.Errorf("CurrentIndex = %d; want 999 stored verbatim", q.CurrentIndex)
	}
	if len(q.Tracks) != 3 {
		t.Errorf("tracks mutated by index update: %d", len(q.Tracks))
	}
}

func TestClearQueue(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("Anna")

	ok, err := d.ClearQueue(p.ID)
	if err != nil {
		t.Fatalf("ClearQueue failed: %v", err)
	}
	if ok {
		t.Error("ClearQueue without a queue should return false")
	}

	if _, err := d.SetQueue(p.ID, "album", "a1", "Album", testTracks(2)); err != nil {
		t.Fatalf("SetQueue failed: %v", err)
	}

	ok, err = d.ClearQueue(p.ID)
	if err != nil || !ok {
		t.Fatalf("ClearQueue = %v, %v; want true", ok, err)
	}

	q, err := d.GetQueue(p.ID)
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if q != nil {
		t.Errorf("expected nil queue after clear, got %+v", q)
	}
}

func TestSetThenIndexThenGet(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("p1")

	if _, err := d.SetQueue(p.ID, "playlist", "pl1", "Mix", testTracks(2)); err != nil {
		t.Fatalf("SetQueue failed: %v", err)
	}
	if _, err := d.UpdateQueueIndex(p.ID, 1); err != nil {
		t.Fatalf("UpdateQueueIndex failed: %v", err)
	}

	q, err := d.GetQueue(p.ID)
	if err != nil {
		t.Fatalf("GetQueue failed: %v", err)
	}
	if q.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d; want 1", q.CurrentIndex)
	}
	if len(q.Tracks) != 2 || q.Tracks[0].TrackID != "t1" || q.Tracks[1].TrackID != "t2" {
		t.Errorf("tracks out of order: %+v", q.Tracks)
	}
}

func TestProfileDeleteCascades(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("Anna")

	if _, err := d.SetQueue(p.ID, "album", "a1", "Album", testTracks(3)); err != nil {
		t.Fatalf("SetQueue failed: %v", err)
	}
	if _, err := d.DeleteProfile(p.ID); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}

	var queues, tracks int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM playback_queues`).Scan(&queues); err != nil {
		t.Fatal(err)
	}
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM queue_tracks`).Scan(&tracks); err != nil {
		t.Fatal(err)
	}
	if queues != 0 || tracks != 0 {
		t.Errorf("cascade failed: %d queues, %d tracks left", queues, tracks)
	}
}

// stampedTracks marks every track with the source it was written for, so a
// reader can detect a queue whose header and tracks came from different sets.
func stampedTracks(src string, n int) []QueueTrack {
	tracks := testTracks(n)
	for i := range tracks {
		tracks[i].Album = src
	}
	return tracks
}

// TestConcurrentSetAndGet hammers SetQueue and GetQueue on the same profile.
// A reader must only ever observe a complete track set from one source with
// dense positions, never a mix of old and new or an old header over new
// tracks.
// Run with: go test -race ./database/...
func TestConcurrentSetAndGet(t *testing.T) {
	d := newTestDB(t)
	p, _ := d.CreateProfile("Anna")

	if _, err := d.SetQueue(p.ID, "album", "src0", "Album 0", stampedTracks("src0", 4)); err != nil {
		t.Fatalf("seed SetQueue failed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 20; i++ {
			src := fmt.Sprintf("src%d", i)
			n := 2 + i%5
			if _, err := d.SetQueue(p.ID, "album", src, "Album", stampedTracks(src, n)); err != nil {
				t.Errorf("SetQueue failed: %v", err)
				return
			}
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			q, err := d.GetQueue(p.ID)
			if err != nil {
				t.Errorf("GetQueue failed: %v", err)
				return
			}
			if q == nil {
				t.Error("queue vanished during replace")
				return
			}
			for i, track := range q.Tracks {
				if track.Position != i {
					t.Errorf("sparse positions observed: track %d at position %d (source %s)",
						i, track.Position, q.SourceID)
					return
				}
				if track.Album != q.SourceID {
					t.Errorf("torn read: header sourceId=%s but track %d belongs to %s",
						q.SourceID, i, track.Album)
					return
				}
			}
		}
	}()

	wg.Wait()

	q, err := d.GetQueue(p.ID)
	if err != nil {
		t.Fatalf("final GetQueue failed: %v", err)
	}
	if q.SourceID != "src20" {
		t.Errorf("final source = %s; want src20 (last write wins)", q.SourceID)
	}
}

func TestPlayerCacheRoundtrip(t *testing.T) {
	d := newTestDB(t)

	seen := time.Now().UTC().Truncate(time.Second)
	players := []CachedPlayer{
		{Address: "10.0.0.1:11000", PlayerID: "A", Name: "Kitchen", Model: "N130", Brand: "Bluesound", MAC: "aa:bb", LastSeen: seen},
		{Address: "10.0.0.2:11000", PlayerID: "B", Name: "Den", Model: "N330", Brand: "Bluesound", MAC: "cc:dd", LastSeen: seen.Add(time.Second)},
	}
	if err := d.UpsertPlayerCache(players); err != nil {
		t.Fatalf("UpsertPlayerCache failed: %v", err)
	}

	// Re-upserting the same address updates in place.
	players[0].Name = "Kitchen 2"
	if err := d.UpsertPlayerCache(players[:1]); err != nil {
		t.Fatalf("second UpsertPlayerCache failed: %v", err)
	}

	got, err := d.CachedPlayers()
	if err != nil {
		t.Fatalf("CachedPlayers failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}
	// Ordered by last_seen descending.
	if got[0].PlayerID != "B" {
		t.Errorf("first cached player = %s; want B (most recently seen)", got[0].PlayerID)
	}
	if got[1].Name != "Kitchen 2" {
		t.Errorf("cached name = %q; want updated value", got[1].Name)
	}
}
