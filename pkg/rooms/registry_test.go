package rooms_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/RasheedLewis/collab-canvas-sub000/pkg/rooms"
	"github.com/google/uuid"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestJoinAndMembers(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	a, b := uuid.New(), uuid.New()

	left, members := r.Join(a, "lobby")
	if left != "" {
		t.Errorf("first join should leave no room, got %q", left)
	}
	if len(members) != 0 {
		t.Errorf("expected empty member list for first joiner, got %d", len(members))
	}

	_, members = r.Join(b, "lobby")
	if len(members) != 1 || members[0] != a {
		t.Errorf("expected existing member list [a], got %v", members)
	}
	if got := len(r.Members("lobby")); got != 2 {
		t.Errorf("expected 2 members, got %d", got)
	}
}

func TestJoinLeavesPriorRoom(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	a := uuid.New()

	r.Join(a, "alpha")
	left, _ := r.Join(a, "beta")
	if left != "alpha" {
		t.Errorf("expected to leave alpha, got %q", left)
	}

	if _, ok := r.RoomOf(a); !ok {
		t.Fatal("connection should have a room")
	}
	if room, _ := r.RoomOf(a); room != "beta" {
		t.Errorf("expected beta, got %q", room)
	}
	if r.Members("alpha") != nil {
		t.Error("alpha should have been deleted when emptied")
	}
}

func TestLeave(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	a := uuid.New()

	if r.Leave(a, "nowhere") {
		t.Error("leaving an unknown room should report false")
	}

	r.Join(a, "alpha")
	if !r.Leave(a, "alpha") {
		t.Error("expected leave to succeed")
	}
	if r.Count() != 0 {
		t.Errorf("expected empty room to be removed, have %d rooms", r.Count())
	}
}

func TestRemove(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	a, b := uuid.New(), uuid.New()
	r.Join(a, "alpha")
	r.Join(b, "alpha")

	roomID, ok := r.Remove(a)
	if !ok || roomID != "alpha" {
		t.Fatalf("expected removal from alpha, got %q ok=%v", roomID, ok)
	}
	if got := len(r.Members("alpha")); got != 1 {
		t.Errorf("expected 1 remaining member, got %d", got)
	}

	if _, ok := r.Remove(a); ok {
		t.Error("second removal should report false")
	}
}

func TestEachMemberVisitsRoom(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	a, b := uuid.New(), uuid.New()
	r.Join(a, "alpha")
	r.Join(b, "alpha")

	visited := make(map[uuid.UUID]int)
	r.EachMember("alpha", func(connID uuid.UUID) { visited[connID]++ })
	if visited[a] != 1 || visited[b] != 1 {
		t.Errorf("expected each member visited once, got %v", visited)
	}

	calls := 0
	r.EachMember("nowhere", func(uuid.UUID) { calls++ })
	if calls != 0 {
		t.Errorf("unknown room should visit nobody, got %d calls", calls)
	}
}

func TestEachMemberSerializesConcurrentVisits(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	a, b := uuid.New(), uuid.New()
	r.Join(a, "alpha")
	r.Join(b, "alpha")

	// Each visit runs under the registry lock, so every member must observe
	// the visits in the same relative order.
	seen := make(map[uuid.UUID][]int)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.EachMember("alpha", func(connID uuid.UUID) {
				seen[connID] = append(seen[connID], n)
			})
		}(i)
	}
	wg.Wait()

	if len(seen[a]) != 50 || len(seen[b]) != 50 {
		t.Fatalf("expected 50 visits per member, got %d and %d", len(seen[a]), len(seen[b]))
	}
	for i := range seen[a] {
		if seen[a][i] != seen[b][i] {
			t.Fatalf("members observed different orders at %d: %d vs %d", i, seen[a][i], seen[b][i])
		}
	}
}

func TestClear(t *testing.T) {
	r := rooms.NewRegistry(newTestLogger())
	r.Join(uuid.New(), "alpha")
	r.Join(uuid.New(), "beta")

	r.Clear()
	if r.Count() != 0 {
		t.Errorf("expected no rooms after clear, got %d", r.Count())
	}
}
