package spray

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func mustReconcile(t *testing.T, d *Dedup, event *SprayDay, loc uuid.UUID) ReconcileOutcome {
	t.Helper()
	out, err := d.Reconcile(context.Background(), event, loc)
	if err != nil {
		t.Fatalf("reconcile %s: %v", event.ID, err)
	}
	return out
}

func TestReconcileSprayedSupersedesUnsprayed(t *testing.T) {
	store := newFakeStore()
	d := NewDedup(store)
	loc := uuid.New()

	first := &SprayDay{ID: uuid.New(), DataID: "296282", WasSprayed: false}
	second := &SprayDay{ID: uuid.New(), DataID: "296282", WasSprayed: true}

	out := mustReconcile(t, d, first, loc)
	if !out.Canonical || out.CanonicalID != first.ID {
		t.Fatalf("first event not canonical: %+v", out)
	}

	out = mustReconcile(t, d, second, loc)
	if !out.Canonical || out.CanonicalID != second.ID {
		t.Fatalf("sprayed event did not supersede: %+v", out)
	}
}

func TestReconcileSprayedIsSticky(t *testing.T) {
	store := newFakeStore()
	d := NewDedup(store)
	loc := uuid.New()

	sprayed := &SprayDay{ID: uuid.New(), DataID: "296282", WasSprayed: true}
	later := &SprayDay{ID: uuid.New(), DataID: "296282", WasSprayed: false}

	mustReconcile(t, d, sprayed, loc)
	out := mustReconcile(t, d, later, loc)
	if out.Canonical {
		t.Fatal("unsprayed event replaced a sprayed canonical")
	}
	if out.CanonicalID != sprayed.ID {
		t.Fatalf("canonical = %s, want the sprayed event %s", out.CanonicalID, sprayed.ID)
	}
}

func TestReconcileSprayedNeverYields(t *testing.T) {
	store := newFakeStore()
	d := NewDedup(store)
	loc := uuid.New()

	first := &SprayDay{ID: uuid.New(), DataID: "w1", WasSprayed: true}
	second := &SprayDay{ID: uuid.New(), DataID: "w1", WasSprayed: true}

	mustReconcile(t, d, first, loc)
	out := mustReconcile(t, d, second, loc)
	if out.CanonicalID != first.ID {
		t.Fatalf("second sprayed event replaced the first: %+v", out)
	}
}

func TestReconcileUnsprayedChain(t *testing.T) {
	store := newFakeStore()
	d := NewDedup(store)
	loc := uuid.New()

	a := &SprayDay{ID: uuid.New(), DataID: "w2", WasSprayed: false}
	b := &SprayDay{ID: uuid.New(), DataID: "w2", WasSprayed: false}

	mustReconcile(t, d, a, loc)
	out := mustReconcile(t, d, b, loc)
	if !out.Canonical || out.CanonicalID != b.ID {
		t.Fatalf("later unsprayed visit should win: %+v", out)
	}
}

func TestReconcileKeysAreScopedToLocation(t *testing.T) {
	store := newFakeStore()
	d := NewDedup(store)
	locA, locB := uuid.New(), uuid.New()

	inA := &SprayDay{ID: uuid.New(), DataID: "shared", WasSprayed: true}
	inB := &SprayDay{ID: uuid.New(), DataID: "shared", WasSprayed: false}

	mustReconcile(t, d, inA, locA)
	out := mustReconcile(t, d, inB, locB)
	if !out.Canonical {
		t.Fatal("same data id in another area should reconcile independently")
	}
}

func TestReconcileRejectsEmptyDataID(t *testing.T) {
	d := NewDedup(newFakeStore())
	_, err := d.Reconcile(context.Background(), &SprayDay{ID: uuid.New()}, uuid.New())
	if err == nil {
		t.Fatal("empty data id accepted")
	}
}

func TestReconcileTruncatesLongDataID(t *testing.T) {
	store := newFakeStore()
	d := NewDedup(store)
	loc := uuid.New()

	long := "newstructure/-15.4189358123456789-28.3545641123456789-0-5"
	a := &SprayDay{ID: uuid.New(), DataID: long, WasSprayed: true}
	b := &SprayDay{ID: uuid.New(), DataID: long, WasSprayed: false}

	mustReconcile(t, d, a, loc)
	out := mustReconcile(t, d, b, loc)
	if out.CanonicalID != a.ID {
		t.Fatal("truncated keys did not collide as one structure")
	}
	if _, ok := store.points[TruncateDataID(long)+"|"+loc.String()]; !ok {
		t.Fatal("point not stored under the truncated key")
	}
}
