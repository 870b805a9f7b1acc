package history

import "time"

// HistoryEntry is one item of the public history index. Its ID doubles as the
// snapshot timestamp (Unix seconds) and as the key of the areas endpoint.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Datetime  string    `json:"datetime"`
	Status    bool      `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Timestamp returns the snapshot instant encoded by the entry ID.
func (e HistoryEntry) Timestamp() time.Time {
	return SnapshotTime(e.ID)
}

// AreaRecord is one area of one snapshot. TimeIndex never comes from the
// wire; ParseAreas sets it from the snapshot ID.
type AreaRecord struct {
	TimeIndex time.Time
	Hash      string
	Area      float64
	Percent   float64
	AreaType  string
}

// SnapshotTime converts a snapshot ID to its UTC instant.
func SnapshotTime(id int64) time.Time {
	return time.Unix(id, 0).UTC()
}
