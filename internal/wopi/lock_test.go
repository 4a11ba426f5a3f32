package wopi

import "testing"

func TestShortToken(t *testing.T) {
	if got := ShortToken("short"); got != "short" {
		t.Errorf("ShortToken(%q) = %q, want unchanged", "short", got)
	}

	long := "this-access-token-is-much-longer-than-twenty-characters"
	got := ShortToken(long)
	if len(got) != 20 {
		t.Fatalf("ShortToken(%q) has length %d, want 20", long, len(got))
	}
	if got != long[len(long)-20:] {
		t.Errorf("ShortToken(%q) = %q, want last 20 chars %q", long, got, long[len(long)-20:])
	}
}

func TestIntersection(t *testing.T) {
	if Intersection(map[string]bool{}) {
		t.Error("Intersection of empty map should be false")
	}
	if !Intersection(map[string]bool{"a": true, "b": true}) {
		t.Error("Intersection should be true when all values are true")
	}
	if Intersection(map[string]bool{"a": true, "b": false}) {
		t.Error("Intersection should be false when any value is false")
	}
}

func TestUnion(t *testing.T) {
	if Union(map[string]bool{}) {
		t.Error("Union of empty map should be false")
	}
	if !Union(map[string]bool{"a": false, "b": true}) {
		t.Error("Union should be true when any value is true")
	}
	if Union(map[string]bool{"a": false, "b": false}) {
		t.Error("Union should be false when all values are false")
	}
}

func TestClone(t *testing.T) {
	orig := &Lock{
		DocID:    "d1",
		Filename: "doc.md",
		Digest:   "dirty",
		App:      "md",
		ToClose:  map[string]bool{"tok1": false},
	}
	clone := orig.Clone()
	clone.ToClose["tok1"] = true
	clone.Filename = "other.md"

	if orig.ToClose["tok1"] {
		t.Error("mutating the clone's ToClose mutated the original")
	}
	if orig.Filename != "doc.md" {
		t.Error("mutating the clone's Filename mutated the original")
	}
}

func TestGenerateLock(t *testing.T) {
	filemd := &FileMeta{BaseFileName: "notes.md"}
	lock := GenerateLock("doc1", filemd, "abc123", "md", "some-access-token", false)
	if lock.Digest != "abc123" {
		t.Errorf("Digest = %q, want %q", lock.Digest, "abc123")
	}
	if lock.Filename != "notes.md" {
		t.Errorf("Filename = %q, want %q", lock.Filename, "notes.md")
	}
	shorttok := ShortToken("some-access-token")
	if v, ok := lock.ToClose[shorttok]; !ok || v {
		t.Errorf("ToClose[%q] = %v, %v; want false, true", shorttok, v, ok)
	}

	dirty := GenerateLock("doc1", filemd, "abc123", "md", "tok", true)
	if dirty.Digest != DigestDirty {
		t.Errorf("isDirty=true should force Digest=%q, got %q", DigestDirty, dirty.Digest)
	}
}
