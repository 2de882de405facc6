package sink

import (
	"fmt"
	"time"
)

// WriteResult holds the counters a store reports for one write.
type WriteResult struct {
	NodesCreated         int64
	RelationshipsCreated int64

	// ResultAvailableAfter is the time until the store produced a result.
	ResultAvailableAfter time.Duration

	// ResultConsumedAfter is the time spent consuming the result.
	ResultConsumedAfter time.Duration
}

// Add accumulates o into r.
func (r *WriteResult) Add(o WriteResult) {
	r.NodesCreated += o.NodesCreated
	r.RelationshipsCreated += o.RelationshipsCreated
	r.ResultAvailableAfter += o.ResultAvailableAfter
	r.ResultConsumedAfter += o.ResultConsumedAfter
}

func (r WriteResult) String() string {
	return fmt.Sprintf("{ nodesCreated: %d, relsCreated: %d, availableAfterMs: %d, consumedAfterMs: %d }",
		r.NodesCreated, r.RelationshipsCreated,
		r.ResultAvailableAfter.Milliseconds(), r.ResultConsumedAfter.Milliseconds())
}

// Tally says which counter a statement's affected rows feed, for stores
// that only report affected rows.
type Tally uint8

const (
	TallyNone Tally = iota
	TallyNodes
	TallyRelationships
)

// Statement is a single query in a backend's language.
// Graph backends bind Params by name; SQL backends bind Args by position.
type Statement struct {
	Text   string
	Params map[string]any
	Args   []any
	Tally  Tally
}

// Request is the opaque write for one bucket.
type Request struct {
	Statements []Statement
	Records    int
}
