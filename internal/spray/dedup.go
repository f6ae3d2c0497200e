package spray

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Dedup guarantees at most one canonical SprayDay per physical structure per
// location. All the ordering subtlety lives in the repository's atomic
// conditional upsert; this type is the engine-facing seam around it.
type Dedup struct {
	points SprayPointRepo
}

func NewDedup(points SprayPointRepo) *Dedup {
	return &Dedup{points: points}
}

// ReconcileOutcome reports which event is canonical for the key after
// reconciliation. Canonical is true when the submitted event won.
type ReconcileOutcome struct {
	CanonicalID uuid.UUID
	Canonical   bool
}

// Reconcile applies the last-writer-except-already-sprayed rule for one
// resolved event. Safe under concurrent ingestion of the same structure:
// the decision happens inside a single constraint-checked statement, not a
// read-then-write pair.
func (d *Dedup) Reconcile(ctx context.Context, event *SprayDay, locationID uuid.UUID) (ReconcileOutcome, error) {
	if event.DataID == "" {
		return ReconcileOutcome{}, fmt.Errorf("reconcile: event %s has no data id", event.ID)
	}
	canonical, err := d.points.Reconcile(ctx, TruncateDataID(event.DataID), locationID, event.ID, event.WasSprayed)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	return ReconcileOutcome{
		CanonicalID: canonical,
		Canonical:   canonical == event.ID,
	}, nil
}
