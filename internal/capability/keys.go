package capability

import "fmt"

// Slot indices distinguish the objects belonging to one dataset.
// Slot 0 holds the primary tabular content; appends reuse slot 0 in a
// separate bucket scope so independent capabilities never collide.
const SlotPrimary = 0

// ObjectKey derives the storage key for a dataset slot. The derivation
// is deterministic: the record and the object are reconciled by this
// convention alone.
func ObjectKey(datasetID string, slot int) string {
	return fmt.Sprintf("%s/%d", datasetID, slot)
}

// ColumnsKey is the key probed to confirm a dataset's processed
// primary object exists.
func ColumnsKey(datasetID string) string {
	return fmt.Sprintf("%s/columns/0", datasetID)
}
