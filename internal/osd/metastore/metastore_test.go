package metastore

import (
	"path/filepath"
	"testing"
)

// TestPutGetDeleteRoundTrip is Testable Property 7: the index reflects
// exactly the sequence of Put/Delete calls applied to it.
func TestPutGetDeleteRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put("k1", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, ok := s.Get("k1"); !ok || string(v) != "v1" {
		t.Fatalf("Get k1: got (%s, %v)", v, ok)
	}

	if err := s.Delete("k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("k1"); ok {
		t.Fatalf("expected k1 to be gone after delete")
	}
}

func TestScanOrderedAndSkipsTombstones(t *testing.T) {
	s, err := Open(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"c", "a", "b", "d"} {
		if err := s.Put(k, []byte(k)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	if err := s.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var got []string
	s.Scan("", "", func(key string, value []byte) bool {
		got = append(got, key)
		return true
	})
	want := []string{"a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

// TestCrashRecoveryWithoutSnapshot replays the metadata WAL from scratch
// with no snapshot present.
func TestCrashRecoveryWithoutSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := s.Put(keyOf(i), []byte(keyOf(i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	for i := 0; i < 50; i++ {
		if v, ok := s2.Get(keyOf(i)); !ok || string(v) != keyOf(i) {
			t.Fatalf("key %d missing after recovery", i)
		}
	}
}

// TestSnapshotThenWALRecovery covers recovery from a snapshot plus a
// partial WAL tail written after it.
func TestSnapshotThenWALRecovery(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 10; i++ {
		s.Put(keyOf(i), []byte(keyOf(i)))
	}
	if err := s.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for i := 10; i < 20; i++ {
		s.Put(keyOf(i), []byte(keyOf(i)))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	for i := 0; i < 20; i++ {
		if v, ok := s2.Get(keyOf(i)); !ok || string(v) != keyOf(i) {
			t.Fatalf("key %d missing after snapshot+wal recovery", i)
		}
	}
	if filepath.Base(dir) == "" {
		t.Fatalf("unreachable")
	}
}

func TestAutomaticSnapshotTruncatesWAL(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Options{SnapshotEveryPut: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Put(keyOf(i), []byte(keyOf(i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := s.lastSnapshotAge(); err != nil {
		t.Fatalf("expected a snapshot to have been written automatically: %v", err)
	}
	s.Close()
}

func keyOf(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+i/26))
}
