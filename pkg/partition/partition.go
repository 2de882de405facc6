// Package partition splits an ingestion batch into buckets that can be
// written concurrently without two writers touching the same participant.
//
// Participants connected through the batch's transactions form a component.
// Components are packed whole, first-fit, into a fixed number of primary
// buckets; a component that fits nowhere goes to a single overflow bucket.
// Two transactions that share a participant share a component, and so share
// a bucket, which makes cross-bucket collisions impossible.
package partition

import (
	"github.com/paygraph/paygraph/internal/model"
)

// Plan is the result of partitioning one batch.
type Plan struct {
	// Buckets holds the non-empty buckets: primaries in slot order, then overflow.
	Buckets []model.Bucket

	// Threshold is the packing cap applied to each primary bucket.
	Threshold int

	// LargestComponent is the participant count of the biggest component.
	LargestComponent int

	// Components is the number of distinct components in the batch.
	Components int

	// Participants is the number of distinct participants in the batch.
	Participants int

	// Overflow is the number of records routed to the overflow bucket.
	Overflow int
}

// Records returns the total number of records across all buckets.
func (p Plan) Records() int {
	n := 0
	for _, b := range p.Buckets {
		n += b.Len()
	}
	return n
}

// Threshold returns the packing cap for a batch:
// min(largest, ceil(batchSize / parallelism)).
//
// The minimum (not maximum) is intentional and must be kept as is.
func Threshold(batchSize, parallelism, largest int) int {
	if parallelism < 1 {
		parallelism = 1
	}
	target := batchSize / parallelism
	if batchSize%parallelism > 0 {
		target++
	}
	if largest < target {
		return largest
	}
	return target
}

// Partition splits batch into at most parallelism primary buckets plus one
// overflow bucket. Empty buckets are dropped. The batch is not modified and
// no state outlives the call.
func Partition(batch []model.Transaction, parallelism int) Plan {
	if parallelism < 1 {
		parallelism = 1
	}
	if len(batch) == 0 {
		return Plan{}
	}

	// Dense first-seen encoding of participant ids.
	index := make(map[string]int, len(batch))
	encode := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		i := len(index)
		index[id] = i
		return i
	}

	senders := make([]int, len(batch))
	receivers := make([]int, len(batch))
	for i := range batch {
		senders[i] = encode(batch[i].SenderID)
		receivers[i] = encode(batch[i].ReceiverID)
	}

	ds := NewDisjointSet(len(index))
	for i := range batch {
		ds.Union(senders[i], receivers[i])
	}

	// Component sizes by representative, in participants.
	sizes := make([]int, ds.Len())
	components, largest := 0, 0
	for p := 0; p < ds.Len(); p++ {
		root := ds.Find(p)
		if sizes[root] == 0 {
			components++
		}
		sizes[root]++
		if sizes[root] > largest {
			largest = sizes[root]
		}
	}

	threshold := Threshold(len(batch), parallelism, largest)

	primaries := make([][]model.Transaction, parallelism)
	estimated := make([]int, parallelism)
	binding := make([]int, ds.Len())
	for i := range binding {
		binding[i] = -1
	}
	var overflow []model.Transaction

	for i, tx := range batch {
		root := ds.Find(senders[i])

		if slot := binding[root]; slot >= 0 {
			primaries[slot] = append(primaries[slot], tx)
			continue
		}

		size := sizes[root]
		assigned := false
		for slot := range primaries {
			if estimated[slot]+size <= threshold {
				estimated[slot] += size
				binding[root] = slot
				primaries[slot] = append(primaries[slot], tx)
				assigned = true
				break
			}
		}

		// Unbound components keep failing the same scan, so every record of
		// an oversized component lands here and the component stays whole.
		if !assigned {
			overflow = append(overflow, tx)
		}
	}

	plan := Plan{
		Threshold:        threshold,
		LargestComponent: largest,
		Components:       components,
		Participants:     ds.Len(),
		Overflow:         len(overflow),
		Buckets:          make([]model.Bucket, 0, parallelism+1),
	}
	for slot, txs := range primaries {
		if len(txs) == 0 {
			continue
		}
		plan.Buckets = append(plan.Buckets, model.Bucket{
			Kind:         model.BucketAssigned,
			Index:        slot,
			Transactions: txs,
		})
	}
	if len(overflow) > 0 {
		plan.Buckets = append(plan.Buckets, model.Bucket{
			Kind:         model.BucketOverflow,
			Index:        -1,
			Transactions: overflow,
		})
	}

	return plan
}
