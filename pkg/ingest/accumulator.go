package ingest

import (
	"github.com/paygraph/paygraph/internal/model"
)

// Accumulator groups a producer's records into batches of a fixed size.
type Accumulator struct {
	producer Producer
	size     int
	pulled   int64
}

// NewAccumulator creates an accumulator that yields batches of size records.
func NewAccumulator(producer Producer, size int) *Accumulator {
	if size < 1 {
		size = 1
	}
	return &Accumulator{producer: producer, size: size}
}

// Next pulls the next batch. The last batch may be short; an empty batch
// means the producer is exhausted. On error the partial batch is returned
// with it.
func (a *Accumulator) Next() ([]model.Transaction, error) {
	batch := make([]model.Transaction, 0, a.size)
	for len(batch) < a.size && a.producer.HasNext() {
		tx, err := a.producer.Next()
		if err != nil {
			return batch, err
		}
		batch = append(batch, tx)
		a.pulled++
	}
	return batch, nil
}

// Pulled returns the number of records pulled so far.
func (a *Accumulator) Pulled() int64 {
	return a.pulled
}
