package dblayer

import (
	"errors"
	"sync"
	"testing"
)

func TestNextLikeCount(t *testing.T) {
	cases := []struct {
		wasLiked bool
		current  int64
		want     int64
	}{
		{false, 0, 1},
		{false, 5, 6},
		{true, 1, 0},
		{true, 5, 4},
		{true, 0, 0},
		{true, -3, 0},
	}
	for _, c := range cases {
		if got := nextLikeCount(c.wasLiked, c.current); got != c.want {
			t.Errorf("nextLikeCount(%v, %d) = %d, want %d", c.wasLiked, c.current, got, c.want)
		}
	}
}

func TestLikeToggleRoundTrip(t *testing.T) {
	// A like followed by an unlike must restore the original count, whatever
	// it was.
	for _, start := range []int64{0, 1, 17} {
		afterLike := nextLikeCount(false, start)
		afterUnlike := nextLikeCount(true, afterLike)
		if afterUnlike != start {
			t.Errorf("like then unlike from %d ended at %d, want %d", start, afterUnlike, start)
		}
	}
}

// likeLedger simulates the entity count plus per-user markers under
// serializable transactions, the consistency model Firestore's optimistic
// transactions provide after conflict retries.
type likeLedger struct {
	mu      sync.Mutex
	count   int64
	markers map[string]bool
}

func (l *likeLedger) toggle(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	wasLiked := l.markers[userID]
	if wasLiked {
		delete(l.markers, userID)
	} else {
		l.markers[userID] = true
	}
	l.count = nextLikeCount(wasLiked, l.count)
	return !wasLiked
}

func TestConcurrentTogglesByDistinctUsers(t *testing.T) {
	const users = 64

	ledger := &likeLedger{markers: map[string]bool{}}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if nowLiked := ledger.toggle(userID); !nowLiked {
				t.Errorf("first toggle for %s reported unliked", userID)
			}
		}(string(rune('a' + i%26)) + string(rune('0'+i/26)))
	}
	wg.Wait()

	if ledger.count != users {
		t.Errorf("Got final count %d after %d distinct likers, want exactly %d (no lost updates)", ledger.count, users, users)
	}
	if len(ledger.markers) != users {
		t.Errorf("Got %d markers, want %d", len(ledger.markers), users)
	}
}

func TestConcurrentToggleAndUntoggle(t *testing.T) {
	const users = 32

	ledger := &likeLedger{markers: map[string]bool{}}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			ledger.toggle(userID)
			ledger.toggle(userID)
		}(string(rune('a'+i%26)) + string(rune('0'+i/26)))
	}
	wg.Wait()

	if ledger.count != 0 {
		t.Errorf("Got final count %d after every user liked and unliked, want 0", ledger.count)
	}
	if len(ledger.markers) != 0 {
		t.Errorf("Got %d leftover markers, want none", len(ledger.markers))
	}
}

func TestParseLikeKind(t *testing.T) {
	kind, err := ParseLikeKind("prompt")
	if err != nil || kind != LikePrompt {
		t.Errorf(`ParseLikeKind("prompt") = %v, %v, want LikePrompt, nil`, kind, err)
	}

	kind, err = ParseLikeKind("execution")
	if err != nil || kind != LikeExecution {
		t.Errorf(`ParseLikeKind("execution") = %v, %v, want LikeExecution, nil`, kind, err)
	}

	if _, err := ParseLikeKind("banana"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf(`ParseLikeKind("banana") error = %v, want ErrInvalidArgument`, err)
	}
}

func TestLikeKindCollections(t *testing.T) {
	if got := LikePrompt.entityCollection(); got != "prompts" {
		t.Errorf("LikePrompt entity collection = %q, want %q", got, "prompts")
	}
	if got := LikePrompt.markerSubcollection(); got != "likes" {
		t.Errorf("LikePrompt marker subcollection = %q, want %q", got, "likes")
	}
	if got := LikeExecution.entityCollection(); got != "executions" {
		t.Errorf("LikeExecution entity collection = %q, want %q", got, "executions")
	}
	if got := LikeExecution.markerSubcollection(); got != "executionLikes" {
		t.Errorf("LikeExecution marker subcollection = %q, want %q", got, "executionLikes")
	}
}
