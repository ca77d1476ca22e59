package helpers

import (
	"testing"
	"time"
)

func TestContentHashStableAcrossFormatting(t *testing.T) {
	a := ContentHash("Acme charges  $29 per seat.\n")
	b := ContentHash("acme charges $29 per seat.")
	if a != b {
		t.Fatalf("hash not stable across whitespace/case: %s vs %s", a, b)
	}
	if c := ContentHash("acme charges $30 per seat."); c == a {
		t.Fatalf("different content hashed identically")
	}
}

func TestCheckRevisitFirstVisitIsChanged(t *testing.T) {
	res := CheckRevisit(PageMark{}, "fresh content", time.Now(), 0)
	if !res.Changed {
		t.Fatalf("first visit should read as changed")
	}
	if res.Hash == "" {
		t.Fatalf("expected a content hash")
	}
	if res.Expired {
		t.Fatalf("zero mark cannot be expired")
	}
}

func TestCheckRevisitUnchangedContent(t *testing.T) {
	now := time.Now()
	first := CheckRevisit(PageMark{}, "same text", now, 0)
	mark := PageMark{Hash: first.Hash, SeenAt: now.Add(-10 * time.Minute)}

	res := CheckRevisit(mark, "Same   TEXT", now, 0)
	if res.Changed {
		t.Fatalf("normalized-identical content reported as changed")
	}
	if res.Age != 10*time.Minute {
		t.Fatalf("age = %s, want 10m", res.Age)
	}
}

func TestCheckRevisitDetectsChangeAndExpiry(t *testing.T) {
	now := time.Now()
	mark := PageMark{Hash: ContentHash("old body"), SeenAt: now.Add(-2 * time.Hour)}

	res := CheckRevisit(mark, "new body", now, time.Hour)
	if !res.Changed {
		t.Fatalf("changed content not detected")
	}
	if !res.Expired {
		t.Fatalf("mark older than maxAge should be expired")
	}

	fresh := CheckRevisit(PageMark{Hash: ContentHash("old body"), SeenAt: now.Add(-time.Minute)}, "old body", now, time.Hour)
	if fresh.Changed || fresh.Expired {
		t.Fatalf("fresh identical content misreported: %+v", fresh)
	}
}
