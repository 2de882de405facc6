// Package sink writes buckets of transactions into a graph store.
//
// A Sink pairs a Backend (Neo4j or DuckDB) with a worker pool. Bucket writes
// are asynchronous and return a Handle; schema setup and enrichment
// statements run synchronously on the caller's goroutine.
package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

const tracerName = "github.com/paygraph/paygraph/pkg/sink"

// Backend executes compiled statements against a store.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Dialect returns the compiler for this backend's query language.
	Dialect() Dialect

	// EnsureSchema applies the dialect's schema statements. Items that
	// already exist are not an error.
	EnsureSchema(ctx context.Context) error

	// Execute runs stmts in a single write transaction.
	Execute(ctx context.Context, stmts ...Statement) (WriteResult, error)

	// Close releases the backend's connections.
	Close(ctx context.Context) error
}

// Option configures a Sink.
type Option func(*Sink)

// WithWorkers sets the number of concurrent bucket writers.
func WithWorkers(n int) Option {
	return func(s *Sink) { s.workers = n }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Sink) { s.log = log }
}

// Sink submits bucket writes to a backend on a worker pool.
type Sink struct {
	backend Backend
	dialect Dialect
	workers int
	pool    *WorkerPool
	log     *logrus.Entry
	tracer  trace.Tracer
}

// New creates a Sink over backend.
func New(backend Backend, opts ...Option) *Sink {
	s := &Sink{
		backend: backend,
		dialect: backend.Dialect(),
		workers: 8,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("backend", backend.Name())
	s.pool = NewWorkerPool(s.workers)
	s.log.WithField("workers", s.pool.Workers()).Debug("sink ready")
	return s
}

// Dialect returns the backend's dialect.
func (s *Sink) Dialect() Dialect {
	return s.dialect
}

// EnsureSchema creates constraints and indexes. It is idempotent.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "sink.ensure_schema")
	defer span.End()

	start := time.Now()
	if err := s.backend.EnsureSchema(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return pgerrors.Wrap(err, pgerrors.CodeSchemaFailed, "ensure schema")
	}
	s.log.WithField("elapsed", time.Since(start)).Info("schema ready")
	return nil
}

// SubmitWriteAsync queues bucket for writing and returns immediately.
// The write runs in one store transaction; its failure is reported through
// the Handle only.
func (s *Sink) SubmitWriteAsync(ctx context.Context, bucket model.Bucket) Handle {
	f := newFuture()
	err := s.pool.Submit(ctx, func() {
		f.complete(s.write(ctx, bucket))
	})
	if err != nil {
		f.complete(WriteResult{}, pgerrors.Wrap(err, pgerrors.CodeSinkClosed, "submit write").
			WithContext("batch", bucket.Batch).
			WithContext("bucket", bucket.Index))
	}
	return f
}

func (s *Sink) write(ctx context.Context, bucket model.Bucket) (WriteResult, error) {
	ctx, span := s.tracer.Start(ctx, "sink.write", trace.WithAttributes(
		attribute.Int64("paygraph.batch", bucket.Batch),
		attribute.Int("paygraph.bucket", bucket.Index),
		attribute.String("paygraph.bucket.kind", bucket.Kind.String()),
		attribute.Int("paygraph.bucket.records", bucket.Len()),
	))
	defer span.End()

	req := s.dialect.InsertBucket(bucket)
	res, err := s.backend.Execute(ctx, req.Statements...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, pgerrors.Wrap(err, pgerrors.CodeWriteFailed, "write bucket").
			WithContext("batch", bucket.Batch).
			WithContext("bucket", bucket.Index)
	}

	span.SetAttributes(
		attribute.Int64("paygraph.nodes_created", res.NodesCreated),
		attribute.Int64("paygraph.relationships_created", res.RelationshipsCreated),
	)
	s.log.WithFields(logrus.Fields{
		"batch":   bucket.Batch,
		"bucket":  bucket.Index,
		"kind":    bucket.Kind.String(),
		"records": req.Records,
	}).Debugf("bucket written %s", res)
	return res, nil
}

// ExecuteSync runs one statement and waits for it.
func (s *Sink) ExecuteSync(ctx context.Context, stmt Statement) (WriteResult, error) {
	return s.ExecuteBatchSync(ctx, []Statement{stmt})
}

// ExecuteBatchSync runs stmts in one transaction and waits for it.
func (s *Sink) ExecuteBatchSync(ctx context.Context, stmts []Statement) (WriteResult, error) {
	ctx, span := s.tracer.Start(ctx, "sink.execute", trace.WithAttributes(
		attribute.Int("paygraph.statements", len(stmts)),
	))
	defer span.End()

	res, err := s.backend.Execute(ctx, stmts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, pgerrors.Wrap(err, pgerrors.CodeWriteFailed, "execute statements")
	}
	return res, nil
}

// Close waits for queued writes, then closes the backend.
func (s *Sink) Close(ctx context.Context) error {
	s.pool.Close()
	return s.backend.Close(ctx)
}
