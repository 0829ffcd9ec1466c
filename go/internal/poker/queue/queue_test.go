package queue

import (
	"testing"

	"github.com/scrumdeck/scrumdeck/go/internal/models"
)

func item(key string) models.Item {
	return models.Item{Key: key, Title: "title for " + key, Link: "https://tracker.example.com/" + key}
}

func TestAddDeduplicatesByKey(t *testing.T) {
	q := New()

	snapshot, changed := q.Add([]models.Item{item("K1"), item("K2")})
	if !changed {
		t.Fatal("expected first add to change the queue")
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snapshot))
	}

	snapshot, changed = q.Add([]models.Item{item("K2"), item("K3")})
	if !changed {
		t.Fatal("expected add with one new key to change the queue")
	}
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 items after dedupe, got %d", len(snapshot))
	}
	want := []string{"K1", "K2", "K3"}
	for i, w := range want {
		if snapshot[i].Key != w {
			t.Errorf("position %d: got %q, want %q", i, snapshot[i].Key, w)
		}
	}
}

func TestAddSkipsEmptyKeysAndReportsUnchanged(t *testing.T) {
	q := New()
	q.Add([]models.Item{item("K1")})

	snapshot, changed := q.Add([]models.Item{{Title: "no key"}, item("K1")})
	if changed {
		t.Error("expected no change when every item is a duplicate or keyless")
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 item, got %d", len(snapshot))
	}
}

func TestRemove(t *testing.T) {
	q := New()
	q.Add([]models.Item{item("K1"), item("K2")})

	if !q.Remove("K1") {
		t.Fatal("expected Remove of present key to report true")
	}
	if q.Remove("K1") {
		t.Error("expected Remove of absent key to report false")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 item left, got %d", q.Len())
	}
	if _, ok := q.Get("K1"); ok {
		t.Error("removed key still retrievable")
	}
	if _, ok := q.Get("K2"); !ok {
		t.Error("remaining key not retrievable")
	}
}

func TestClear(t *testing.T) {
	q := New()
	q.Add([]models.Item{item("K1"), item("K2")})

	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d items", q.Len())
	}

	// Keys are reusable after a clear.
	if _, changed := q.Add([]models.Item{item("K1")}); !changed {
		t.Error("expected add after clear to succeed")
	}
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	q := New()
	q.Add([]models.Item{item("K1"), item("K2")})

	snapshot := q.Snapshot()
	snapshot[0].Key = "mutated"
	snapshot[0].Title = "mutated"

	fresh := q.Snapshot()
	if fresh[0].Key != "K1" {
		t.Errorf("mutating a snapshot leaked into the queue: got %q", fresh[0].Key)
	}
}
