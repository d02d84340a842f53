package stale

import (
	"testing"
	"time"
)

func TestIncompleteHeuristic(t *testing.T) {
	tracker := NewTracker()

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"short reply", "Sure, let me", true},
		{"complete sentence", "The capital of France is Paris, which is also its largest city.", false},
		{"ends on connective without punctuation", "The three main reasons for this are the cost, the timeline and", true},
		{"long but unterminated non-connective", "The answer depends on several factors that vary between deployments here", false},
		{"question", "Would you like me to explain how the quota system works in more detail?", false},
		{"quoted terminal punctuation", `He said "the meeting is scheduled for Monday at nine in the morning."`, false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tracker.Incomplete(tc.text); got != tc.want {
				t.Fatalf("Incomplete(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestRecordAndClear(t *testing.T) {
	tracker := NewTracker()

	if !tracker.RecordIfIncomplete("c1", "I think the") {
		t.Fatal("truncated reply not recorded")
	}
	hint, ok := tracker.ContinuationHint("c1")
	if !ok || hint != "I think the" {
		t.Fatalf("hint = %q, %v", hint, ok)
	}

	// A complete follow-up clears the stored entry.
	if tracker.RecordIfIncomplete("c1", "I think the session quota is the right place to enforce this limit.") {
		t.Fatal("complete reply judged incomplete")
	}
	if _, ok := tracker.ContinuationHint("c1"); ok {
		t.Fatal("entry not cleared by complete reply")
	}
}

func TestSweep(t *testing.T) {
	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(WithClock(func() time.Time { return current }))

	tracker.RecordIfIncomplete("old", "This reply ends with and")
	current = current.Add(11 * time.Minute)
	tracker.RecordIfIncomplete("fresh", "Another reply ending with because")

	if removed := tracker.Sweep(10 * time.Minute); removed != 1 {
		t.Fatalf("Sweep removed %d entries, want 1", removed)
	}
	if _, ok := tracker.ContinuationHint("old"); ok {
		t.Fatal("stale entry survived sweep")
	}
	if _, ok := tracker.ContinuationHint("fresh"); !ok {
		t.Fatal("fresh entry removed by sweep")
	}
}

func TestForget(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordIfIncomplete("c1", "partial text with")
	tracker.Forget("c1")
	if tracker.Len() != 0 {
		t.Fatalf("Len = %d after Forget", tracker.Len())
	}
}
