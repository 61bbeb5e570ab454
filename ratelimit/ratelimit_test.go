package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(Options{Rate: 1, Burst: 3})
	for i := 0; i < 3; i++ {
		if !l.Allow("org_1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if l.Allow("org_1") {
		t.Fatal("request allowed past burst")
	}
}

func TestKeysIndependent(t *testing.T) {
	l := New(Options{Rate: 1, Burst: 1})
	if !l.Allow("org_1") {
		t.Fatal("first key denied")
	}
	if !l.Allow("org_2") {
		t.Fatal("second key denied after exhausting first")
	}
	if l.Allow("org_1") {
		t.Fatal("exhausted key allowed")
	}
}

func TestIdleGC(t *testing.T) {
	l := New(Options{Rate: 1, Burst: 1, IdleTTL: 10 * time.Millisecond})
	l.Allow("org_1")
	l.Allow("org_2")
	if l.Len() != 2 {
		t.Fatalf("buckets = %d, want 2", l.Len())
	}

	time.Sleep(25 * time.Millisecond)
	// Touching a third key past the TTL window triggers collection.
	l.Allow("org_3")
	if l.Len() != 1 {
		t.Fatalf("buckets = %d after GC, want 1", l.Len())
	}
}
