package polling

import "github.com/rua-project/rua/pkg/history"

// Collection accumulates area records across snapshots, in arrival order.
type Collection struct {
	records []history.AreaRecord
}

func NewCollection(capacity int) *Collection {
	return &Collection{records: make([]history.AreaRecord, 0, capacity)}
}

// AppendAll adds one snapshot's records to the end.
func (c *Collection) AppendAll(records []history.AreaRecord) {
	c.records = append(c.records, records...)
}

func (c *Collection) Records() []history.AreaRecord {
	return c.records
}

func (c *Collection) Len() int {
	return len(c.records)
}
