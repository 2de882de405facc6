package ingest

import (
	"context"

	"github.com/paygraph/paygraph/internal/model"
	"github.com/paygraph/paygraph/pkg/sink"
)

// Producer is a pull-based source of transactions.
type Producer interface {
	// Run starts generation. It must be called once before consumption.
	Run() error

	// HasNext reports whether another record is available.
	HasNext() bool

	// Next returns the next record. It fails with CodeExhausted once
	// HasNext has returned false.
	Next() (model.Transaction, error)

	// Abort stops generation. A second call fails with CodeAlreadyAborted.
	Abort() error
}

// Sink is the store the dispatcher writes buckets into.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	SubmitWriteAsync(ctx context.Context, bucket model.Bucket) sink.Handle
	ExecuteSync(ctx context.Context, stmt sink.Statement) (sink.WriteResult, error)
	ExecuteBatchSync(ctx context.Context, stmts []sink.Statement) (sink.WriteResult, error)
}

// Observer receives running totals from the control goroutine.
// Implementations must not block for long.
type Observer interface {
	// Progress is called after each completed write.
	Progress(stats Stats)

	// Finished is called once when Run returns.
	Finished(stats Stats, err error)
}

var _ Sink = (*sink.Sink)(nil)
