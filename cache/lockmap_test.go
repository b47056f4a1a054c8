package cache

import (
	"hash/maphash"
	"testing"
)

func TestLockMapGetCreatesAndReuses(t *testing.T) {
	lm := New[string, int](HashString, 1024, func(k string) int { return len(k) })
	e1, release1 := lm.Get("segment-1")
	if e1.Value != len("segment-1") {
		t.Fatalf("unexpected value %d", e1.Value)
	}
	release1()
	e2, release2 := lm.Get("segment-1")
	defer release2()
	if e1 != e2 {
		t.Fatal("expected the same cached entry on second Get")
	}
}

func TestLockMapRemove(t *testing.T) {
	lm := New[string, int](HashString, 1024, func(k string) int { return 0 })
	_, release := lm.Get("a")
	release()
	lm.Remove("a")
	if lm.Len() != 0 {
		t.Fatalf("expected 0 entries after Remove, got %d", lm.Len())
	}
}

func TestHashStringStable(t *testing.T) {
	seed := maphash.MakeSeed()
	if HashString(seed, "x") != HashString(seed, "x") {
		t.Fatal("expected stable hash for the same seed and key")
	}
}
