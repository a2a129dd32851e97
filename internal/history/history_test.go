package history

import (
	"fmt"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: GetOrCreate returns an empty transcript for a new sender and the
// same transcript (with earlier appends) on subsequent calls
// ---------------------------------------------------------------------------

func TestGetOrCreate_NewSender(t *testing.T) {
	s := NewStore()

	turns := s.GetOrCreate("0xabc")
	if len(turns) != 0 {
		t.Fatalf("expected empty transcript, got %d turns", len(turns))
	}

	s.Append("0xabc", Turn{Role: RoleUser, Content: "hello"})

	again := s.GetOrCreate("0xabc")
	if len(again) != 1 {
		t.Fatalf("expected 1 turn after append, got %d", len(again))
	}
	if again[0].Role != RoleUser || again[0].Content != "hello" {
		t.Errorf("unexpected turn: %+v", again[0])
	}
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	s := NewStore()

	s.GetOrCreate("0xabc")
	s.Append("0xabc", Turn{Role: RoleUser, Content: "one"})
	s.GetOrCreate("0xabc")

	if got := s.Len("0xabc"); got != 1 {
		t.Fatalf("expected 1 turn after repeated GetOrCreate, got %d", got)
	}
	if got := len(s.Senders()); got != 1 {
		t.Fatalf("expected 1 registered sender, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Transcripts are isolated per sender
// ---------------------------------------------------------------------------

func TestAppend_PerSenderIsolation(t *testing.T) {
	s := NewStore()

	s.Append("alice", Turn{Role: RoleUser, Content: "from alice"})
	s.Append("bob", Turn{Role: RoleUser, Content: "from bob"})
	s.Append("alice", Turn{Role: RoleAssistant, Content: "to alice"})

	alice := s.Turns("alice")
	if len(alice) != 2 {
		t.Fatalf("expected 2 turns for alice, got %d", len(alice))
	}
	if alice[0].Content != "from alice" || alice[1].Content != "to alice" {
		t.Errorf("unexpected alice transcript: %+v", alice)
	}

	bob := s.Turns("bob")
	if len(bob) != 1 {
		t.Fatalf("expected 1 turn for bob, got %d", len(bob))
	}
	if bob[0].Content != "from bob" {
		t.Errorf("unexpected bob transcript: %+v", bob)
	}
}

// ---------------------------------------------------------------------------
// Test: Turns returns a snapshot, not the backing slice
// ---------------------------------------------------------------------------

func TestTurns_Snapshot(t *testing.T) {
	s := NewStore()
	s.Append("alice", Turn{Role: RoleUser, Content: "original"})

	snap := s.Turns("alice")
	snap[0].Content = "mutated"
	_ = append(snap, Turn{Role: RoleAssistant, Content: "extra"})

	stored := s.Turns("alice")
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored turn, got %d", len(stored))
	}
	if stored[0].Content != "original" {
		t.Errorf("snapshot mutation leaked into store: %q", stored[0].Content)
	}
}

func TestTurns_UnknownSender(t *testing.T) {
	s := NewStore()
	turns := s.Turns("nobody")
	if turns == nil {
		t.Fatal("expected non-nil empty slice for unknown sender")
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty transcript, got %d turns", len(turns))
	}
}

// ---------------------------------------------------------------------------
// Test: Concurrent appends from multiple goroutines are all retained
// ---------------------------------------------------------------------------

func TestAppend_Concurrent(t *testing.T) {
	s := NewStore()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.Append("shared", Turn{Role: RoleUser, Content: fmt.Sprintf("g%d-%d", g, i)})
			}
		}(g)
	}
	wg.Wait()

	if got := s.Len("shared"); got != goroutines*perGoroutine {
		t.Fatalf("expected %d turns, got %d", goroutines*perGoroutine, got)
	}
}
