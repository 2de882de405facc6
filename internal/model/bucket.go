package model

// BucketKind records how a bucket's contents were assigned.
type BucketKind uint8

const (
	// BucketAssigned holds whole components packed under the threshold.
	BucketAssigned BucketKind = iota
	// BucketOverflow holds components that did not fit any assigned bucket.
	BucketOverflow
)

func (k BucketKind) String() string {
	if k == BucketOverflow {
		return "overflow"
	}
	return "assigned"
}

// Bucket is a group of transactions written together by one asynchronous write.
// No participant appears in more than one bucket of the same batch.
type Bucket struct {
	Kind BucketKind

	// Index is the primary bucket slot, or -1 for overflow.
	Index int

	// Batch is the sequence number of the batch the bucket came from.
	Batch int64

	Transactions []Transaction
}

// Len returns the number of transactions in the bucket.
func (b Bucket) Len() int {
	return len(b.Transactions)
}

// IsOverflow reports whether the bucket is the overflow bucket.
func (b Bucket) IsOverflow() bool {
	return b.Kind == BucketOverflow
}
