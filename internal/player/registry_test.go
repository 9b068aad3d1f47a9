package player

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"
)

// sequenceIDSource hands out the given ids in order, then counts upward
type sequenceIDSource struct {
	mu   sync.Mutex
	ids  []uint32
	next uint32
}

func (s *sequenceIDSource) NextID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) > 0 {
		id := s.ids[0]
		s.ids = s.ids[1:]
		return id, nil
	}
	s.next++
	return s.next, nil
}

// constantIDSource always returns the same id
type constantIDSource uint32

func (c constantIDSource) NextID() (uint32, error) { return uint32(c), nil }

type failingIDSource struct{}

func (failingIDSource) NextID() (uint32, error) { return 0, errors.New("entropy unavailable") }

func newTestRegistry(t *testing.T, ids IDSource) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRegistry(logger, ids, 30)
}

var testAddr = netip.MustParseAddrPort("127.0.0.1:40000")

func TestRegisterAssignsDistinctIDs(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})

	alice, err := reg.Register("alice", testAddr)
	if err != nil {
		t.Fatalf("Failed to register alice: %v", err)
	}
	bob, err := reg.Register("bob", testAddr)
	if err != nil {
		t.Fatalf("Failed to register bob: %v", err)
	}

	if alice.ID == bob.ID {
		t.Errorf("Expected distinct ids, both got %d", alice.ID)
	}
	if alice.State != AwaitingClientAck {
		t.Errorf("Expected new player in AWAITING_CLIENT_ACK, got %s", alice.State)
	}
	if alice.Budget != 30 {
		t.Errorf("Expected budget 30, got %d", alice.Budget)
	}
	if reg.Len() != 2 {
		t.Errorf("Expected 2 players, got %d", reg.Len())
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})

	original, err := reg.Register("alice", testAddr)
	if err != nil {
		t.Fatalf("Failed to register alice: %v", err)
	}

	other := netip.MustParseAddrPort("10.0.0.2:5000")
	_, err = reg.Register("alice", other)
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Expected ErrDuplicateName, got %v", err)
	}

	existing, ok := reg.FindByName("alice")
	if !ok {
		t.Fatal("Expected alice to remain registered")
	}
	if existing.ID != original.ID || existing.Addr != testAddr {
		t.Errorf("Existing entry was modified: %+v", existing)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected 1 player, got %d", reg.Len())
	}
}

func TestInsertAndFind(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})

	p := Player{ID: 77, Name: "carol", Addr: testAddr, Budget: 30}
	if err := reg.Insert(p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	byName, ok := reg.FindByName("carol")
	if !ok {
		t.Fatal("FindByName: expected player")
	}
	byID, ok := reg.FindByID(77)
	if !ok {
		t.Fatal("FindByID: expected player")
	}
	if byName != byID {
		t.Errorf("Indices disagree: %+v vs %+v", byName, byID)
	}

	if err := reg.Insert(Player{ID: 78, Name: "carol"}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}
	if err := reg.Insert(Player{ID: 77, Name: "dave"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
	if err := reg.Insert(Player{ID: 0, Name: "erin"}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
	if _, ok := reg.FindByName("dave"); ok {
		t.Error("Rejected insert must not appear in the name index")
	}
}

func TestRemove(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})

	p, err := reg.Register("alice", testAddr)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	removed, ok := reg.Remove(p.ID)
	if !ok {
		t.Fatal("Expected player to be removed")
	}
	if removed.Addr != testAddr {
		t.Errorf("Removed copy lost its address: %+v", removed)
	}

	if _, ok := reg.FindByID(p.ID); ok {
		t.Error("FindByID found removed player")
	}
	if _, ok := reg.FindByName("alice"); ok {
		t.Error("FindByName found removed player")
	}

	if _, ok := reg.Remove(p.ID); ok {
		t.Error("Expected second remove to report not found")
	}
}

func TestRemoveByName(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})

	p, _ := reg.Register("bob", testAddr)
	removed, ok := reg.RemoveByName("bob")
	if !ok || removed.ID != p.ID {
		t.Fatalf("RemoveByName returned %+v, %v", removed, ok)
	}
	if _, ok := reg.FindByID(p.ID); ok {
		t.Error("FindByID found player removed by name")
	}
	if _, ok := reg.RemoveByName("bob"); ok {
		t.Error("Expected not found for missing name")
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	// The source offers 5 again after it was retired, then zero, then 6.
	reg := newTestRegistry(t, &sequenceIDSource{ids: []uint32{5, 5, 0, 6}})

	first, err := reg.Register("alice", testAddr)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first.ID != 5 {
		t.Fatalf("Expected id 5, got %d", first.ID)
	}
	reg.Remove(first.ID)

	second, err := reg.Register("alice", testAddr)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if second.ID != 6 {
		t.Errorf("Expected retired and zero ids to be skipped, got %d", second.ID)
	}
	if reg.RetiredLen() != 1 {
		t.Errorf("Expected 1 retired id, got %d", reg.RetiredLen())
	}

	if err := reg.Insert(Player{ID: 5, Name: "ghost"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected retired id to be rejected, got %v", err)
	}
}

func TestGenerateIDExhaustion(t *testing.T) {
	reg := newTestRegistry(t, constantIDSource(9))

	if _, err := reg.Register("alice", testAddr); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := reg.GenerateID()
	if !errors.Is(err, ErrIDSpaceExhausted) {
		t.Errorf("Expected ErrIDSpaceExhausted, got %v", err)
	}

	_, err = reg.Register("bob", testAddr)
	if !errors.Is(err, ErrIDSpaceExhausted) {
		t.Errorf("Expected ErrIDSpaceExhausted, got %v", err)
	}
	if _, ok := reg.FindByName("bob"); ok {
		t.Error("Failed registration must not create a player")
	}
}

func TestGenerateIDSourceError(t *testing.T) {
	reg := newTestRegistry(t, failingIDSource{})

	if _, err := reg.GenerateID(); err == nil {
		t.Error("Expected error from failing id source")
	}
}

func TestTouchResetsBudget(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return base }

	p, _ := reg.Register("alice", testAddr)
	reg.SweepExpired(20)

	drained, _ := reg.FindByID(p.ID)
	if drained.Budget != 10 {
		t.Fatalf("Expected budget 10 after sweep, got %d", drained.Budget)
	}

	reg.now = func() time.Time { return base.Add(5 * time.Second) }
	touched, err := reg.Touch(p.ID)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if touched.Budget != 30 {
		t.Errorf("Expected budget reset to 30, got %d", touched.Budget)
	}
	if !touched.LastActivity.Equal(base.Add(5 * time.Second)) {
		t.Errorf("Expected last activity updated, got %v", touched.LastActivity)
	}

	if _, err := reg.Touch(12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})
	p, _ := reg.Register("alice", testAddr)

	if _, err := reg.Advance(p.ID, EventJoinRoom, 3); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Expected ErrIllegalTransition before client ack, got %v", err)
	}

	acked, err := reg.Advance(p.ID, EventClientAck, 0)
	if err != nil {
		t.Fatalf("Advance(client_ack) failed: %v", err)
	}
	if acked.State != BrowsingRooms {
		t.Errorf("Expected BROWSING_ROOMS, got %s", acked.State)
	}

	joined, err := reg.Advance(p.ID, EventJoinRoom, 3)
	if err != nil {
		t.Fatalf("Advance(join_room) failed: %v", err)
	}
	if joined.State != JoinedAndWaiting || joined.RoomID != 3 {
		t.Errorf("Unexpected player after join: %+v", joined)
	}

	playing, err := reg.Advance(p.ID, EventGameStart, 0)
	if err != nil {
		t.Fatalf("Advance(game_start) failed: %v", err)
	}
	if playing.State != PlayingGame || playing.RoomID != 3 {
		t.Errorf("Unexpected player after start: %+v", playing)
	}

	if _, err := reg.Advance(p.ID, EventClientAck, 0); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Expected ErrIllegalTransition from PLAYING_GAME, got %v", err)
	}
	if _, err := reg.Advance(999, EventClientAck, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})

	budgets := map[string]int{"low": 5, "edge": 15, "high": 16, "full": 30}
	for name, budget := range budgets {
		p, err := reg.Register(name, testAddr)
		if err != nil {
			t.Fatalf("Register %s failed: %v", name, err)
		}
		reg.mu.Lock()
		reg.byID[p.ID].Budget = budget
		reg.mu.Unlock()
	}

	evicted := reg.SweepExpired(15)

	seen := make(map[string]int)
	for _, p := range evicted {
		seen[p.Name]++
	}
	if len(evicted) != 2 || seen["low"] != 1 || seen["edge"] != 1 {
		t.Errorf("Expected low and edge evicted exactly once, got %v", seen)
	}
	for _, p := range evicted {
		if _, ok := reg.FindByID(p.ID); ok {
			t.Errorf("%s still present in id index", p.Name)
		}
	}

	for name, before := range budgets {
		p, ok := reg.FindByName(name)
		if before <= 15 {
			if ok {
				t.Errorf("%s should have been evicted", name)
			}
			continue
		}
		if !ok {
			t.Errorf("%s should have survived", name)
			continue
		}
		if p.Budget != before-15 {
			t.Errorf("%s: expected budget %d, got %d", name, before-15, p.Budget)
		}
	}

	if reg.Len() != 2 {
		t.Errorf("Expected 2 survivors, got %d", reg.Len())
	}
}

func TestSweepEmptyRegistry(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{})
	if evicted := reg.SweepExpired(15); len(evicted) != 0 {
		t.Errorf("Expected nothing evicted, got %d", len(evicted))
	}
}

func TestSnapshotOrderedByID(t *testing.T) {
	reg := newTestRegistry(t, &sequenceIDSource{ids: []uint32{30, 10, 20}})
	for _, name := range []string{"a", "b", "c"} {
		if _, err := reg.Register(name, testAddr); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	snapshot := reg.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("Expected 3 players, got %d", len(snapshot))
	}
	for i, want := range []uint32{10, 20, 30} {
		if snapshot[i].ID != want {
			t.Errorf("snapshot[%d].ID = %d, expected %d", i, snapshot[i].ID, want)
		}
	}
}

func TestConcurrentRegister(t *testing.T) {
	src, err := OpenIDSource("")
	if err != nil {
		t.Fatalf("OpenIDSource failed: %v", err)
	}
	reg := newTestRegistry(t, src)

	const workers = 64
	var wg sync.WaitGroup
	ids := make([]uint32, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
			p, err := reg.Register(fmt.Sprintf("player-%d", i), testAddr)
			ids[i], errs[i] = p.ID, err
		}(i)
	}

	// Readers and sweeps interleave with the writers.
	var readers sync.WaitGroup
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func(i int) {
			defer readers.Done()
			for j := 0; j < 100; j++ {
				reg.FindByName(fmt.Sprintf("player-%d", (i*j)%workers))
				reg.Snapshot()
				reg.SweepExpired(0)
			}
		}(i)
	}

	wg.Wait()
	readers.Wait()

	seen := make(map[uint32]bool)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if seen[ids[i]] {
			t.Errorf("duplicate id %d", ids[i])
		}
		seen[ids[i]] = true

		byID, ok := reg.FindByID(ids[i])
		if !ok || byID.Name != fmt.Sprintf("player-%d", i) {
			t.Errorf("worker %d: id index lost the player", i)
		}
	}

	if reg.Len() != workers {
		t.Errorf("Expected %d players, got %d", workers, reg.Len())
	}
}
