// SnapshotFilters narrow the snapshot list.
package dto

import "time"

type SnapshotFilters struct {
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
