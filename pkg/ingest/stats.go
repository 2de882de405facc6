package ingest

import (
	"fmt"
	"time"
)

// Stats are the running totals of a load.
type Stats struct {
	Batches         int64
	Buckets         int64
	OverflowRecords int64

	RecordsSubmitted int64
	RecordsWritten   int64

	NodesCreated         int64
	RelationshipsCreated int64

	FailedWrites int64

	// MaxInFlight is the highest number of outstanding writes observed.
	MaxInFlight int

	Started time.Time
	Elapsed time.Duration
}

// Throughput returns written records per second.
func (s Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.RecordsWritten) / s.Elapsed.Seconds()
}

// Report renders the end-of-run summary line.
func (s Stats) Report() string {
	return fmt.Sprintf("loaded %d transactions (~%.0f tx/s) in %s",
		s.RecordsWritten, s.Throughput(), FormatElapsed(s.Elapsed))
}

// FormatElapsed renders d as "Xm Ys".
func FormatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	return fmt.Sprintf("%dm %ds", m, s)
}
