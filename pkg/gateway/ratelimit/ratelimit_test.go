package ratelimit

import (
	"testing"
	"time"
)

func TestAllowBurstThenDeny(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		if dec := l.Allow("p1", now); !dec.Allowed {
			t.Fatalf("attempt %d denied within burst", i+1)
		}
	}

	dec := l.Allow("p1", now)
	if dec.Allowed {
		t.Fatal("fourth attempt should be denied")
	}
	if dec.RetryAfter < 1 {
		t.Fatalf("RetryAfter = %d, want >= 1", dec.RetryAfter)
	}
}

func TestAllowRefills(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()

	if dec := l.Allow("p1", now); !dec.Allowed {
		t.Fatal("first attempt denied")
	}
	if dec := l.Allow("p1", now); dec.Allowed {
		t.Fatal("second immediate attempt allowed")
	}
	if dec := l.Allow("p1", now.Add(2*time.Second)); !dec.Allowed {
		t.Fatal("attempt after refill denied")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()

	if dec := l.Allow("p1", now); !dec.Allowed {
		t.Fatal("p1 denied")
	}
	if dec := l.Allow("p2", now); !dec.Allowed {
		t.Fatal("p2 denied; keys should not share a bucket")
	}
}

func TestKeyHashesIdentity(t *testing.T) {
	if Key("alice@example.com") == Key("bob@example.com") {
		t.Fatal("distinct identities collided")
	}
	if k := Key("alice@example.com"); k != Key("alice@example.com") {
		t.Fatalf("key not stable: %q", k)
	}
}

func TestMaxEntriesBounded(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, MaxEntries: 4, EntryTTL: time.Minute})
	now := time.Now()

	for i := 0; i < 20; i++ {
		l.Allow(Key(string(rune('a'+i))), now)
	}

	l.mu.Lock()
	n := len(l.m)
	l.mu.Unlock()
	if n > 4 {
		t.Fatalf("entries = %d, want <= 4", n)
	}
}
