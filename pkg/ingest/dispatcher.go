// Package ingest drives a load: it pulls transactions from a Producer in
// batches, partitions each batch into collision-free buckets and writes the
// buckets to a Sink with at most P writes outstanding.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
	"github.com/paygraph/paygraph/pkg/partition"
	"github.com/paygraph/paygraph/pkg/sink"
)

const tracerName = "github.com/paygraph/paygraph/pkg/ingest"

// Config holds the values the dispatcher consumes.
type Config struct {
	// BatchSize is the number of records accumulated before partitioning.
	BatchSize int

	// Parallelism is the bucket count target and the outstanding write bound.
	Parallelism int
}

// WriteTask is a submitted bucket write.
type WriteTask struct {
	ID        int64
	Bucket    model.Bucket
	Handle    sink.Handle
	Submitted time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithObserver adds an observer of running totals.
func WithObserver(obs Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, obs) }
}

// Dispatcher runs the accumulate, partition and submit loop.
// Run is called once; Abort may be called from any goroutine.
type Dispatcher struct {
	producer  Producer
	sink      Sink
	cfg       Config
	log       *logrus.Entry
	tracer    trace.Tracer
	observers []Observer

	started  atomic.Bool
	stopped  atomic.Bool
	abortMu  sync.Mutex
	inflight map[int64]*WriteTask
	done     chan *WriteTask
	nextTask int64
	stats    Stats
	errs     pgerrors.MultiError
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(producer Producer, s Sink, cfg Config, opts ...Option) *Dispatcher {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}

	d := &Dispatcher{
		producer: producer,
		sink:     s,
		cfg:      cfg,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		tracer:   otel.Tracer(tracerName),
		inflight: make(map[int64]*WriteTask, cfg.Parallelism),
		done:     make(chan *WriteTask, cfg.Parallelism),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run loads every record the producer yields and returns the totals.
//
// A producer or write failure aborts the producer and stops submission;
// writes already in flight are awaited before Run returns the first error.
// Cancelling ctx or calling Abort stops consumption the same way, but never
// cancels in-flight writes.
func (d *Dispatcher) Run(ctx context.Context) (Stats, error) {
	if !d.started.CompareAndSwap(false, true) {
		return Stats{}, pgerrors.New(pgerrors.CodeAlreadyRunning, "dispatcher already ran")
	}

	ctx, span := d.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.Int("paygraph.batch_size", d.cfg.BatchSize),
		attribute.Int("paygraph.parallelism", d.cfg.Parallelism),
	))
	defer span.End()

	d.stats.Started = time.Now()
	d.log.WithFields(logrus.Fields{
		"batch_size":  d.cfg.BatchSize,
		"parallelism": d.cfg.Parallelism,
	}).Info("starting load")

	if err := d.producer.Run(); err != nil {
		d.fail(pgerrors.Wrap(err, pgerrors.CodeProducerFailed, "start producer"))
		return d.finish(span)
	}

	// In-flight writes must outlive cancellation of the run.
	writeCtx := context.WithoutCancel(ctx)
	acc := NewAccumulator(d.producer, d.cfg.BatchSize)

	for !d.stopped.Load() {
		if ctx.Err() != nil {
			d.log.Warn("load canceled, waiting for in-flight writes")
			d.errs.Add(pgerrors.ContextCanceled("load", ctx.Err()))
			d.Abort()
			break
		}

		batch, err := acc.Next()
		if err != nil {
			d.fail(pgerrors.Wrap(err, pgerrors.CodeProducerFailed, "pull record").
				WithContext("pulled", acc.Pulled()))
			break
		}
		if len(batch) == 0 || d.stopped.Load() {
			break
		}

		d.dispatch(ctx, writeCtx, batch)
	}

	d.drain()
	return d.finish(span)
}

// Abort stops batch consumption and aborts the producer. Writes in flight
// are not cancelled. Calling Abort again is logged, not escalated.
func (d *Dispatcher) Abort() {
	d.stopped.Store(true)
	d.abortProducer()
}

func (d *Dispatcher) abortProducer() {
	d.abortMu.Lock()
	defer d.abortMu.Unlock()

	err := d.producer.Abort()
	switch {
	case err == nil:
		d.log.Info("producer aborted")
	case pgerrors.IsCode(err, pgerrors.CodeAlreadyAborted):
		d.log.WithError(err).Warn("producer already stopped")
	default:
		d.log.WithError(err).Error("failed to abort producer")
	}
}

// dispatch partitions one batch and submits its buckets, waiting for a slot
// whenever P writes are outstanding.
func (d *Dispatcher) dispatch(ctx, writeCtx context.Context, batch []model.Transaction) {
	seq := d.stats.Batches
	d.stats.Batches++

	_, span := d.tracer.Start(ctx, "ingest.partition", trace.WithAttributes(
		attribute.Int64("paygraph.batch", seq),
		attribute.Int("paygraph.batch.records", len(batch)),
	))
	plan := partition.Partition(batch, d.cfg.Parallelism)
	span.SetAttributes(
		attribute.Int("paygraph.buckets", len(plan.Buckets)),
		attribute.Int("paygraph.threshold", plan.Threshold),
		attribute.Int("paygraph.components", plan.Components),
		attribute.Int("paygraph.overflow", plan.Overflow),
	)
	span.End()

	log := d.log.WithField("batch", seq)
	log.WithFields(logrus.Fields{
		"records":    len(batch),
		"buckets":    len(plan.Buckets),
		"components": plan.Components,
		"largest":    plan.LargestComponent,
		"threshold":  plan.Threshold,
	}).Debug("batch partitioned")
	if plan.Overflow > 0 {
		log.WithFields(logrus.Fields{
			"overflow":  plan.Overflow,
			"threshold": plan.Threshold,
			"largest":   plan.LargestComponent,
		}).Warn("records routed to overflow bucket")
		d.stats.OverflowRecords += int64(plan.Overflow)
	}

	for _, bucket := range plan.Buckets {
		if d.stopped.Load() {
			return
		}
		for len(d.inflight) >= d.cfg.Parallelism {
			d.awaitAny()
		}
		if d.stopped.Load() {
			return
		}
		bucket.Batch = seq
		d.submit(writeCtx, bucket)
	}
}

func (d *Dispatcher) submit(ctx context.Context, bucket model.Bucket) {
	task := &WriteTask{
		ID:        d.nextTask,
		Bucket:    bucket,
		Submitted: time.Now(),
	}
	d.nextTask++
	task.Handle = d.sink.SubmitWriteAsync(ctx, bucket)

	d.inflight[task.ID] = task
	if n := len(d.inflight); n > d.stats.MaxInFlight {
		d.stats.MaxInFlight = n
	}
	d.stats.Buckets++
	d.stats.RecordsSubmitted += int64(bucket.Len())

	go func() {
		<-task.Handle.Done()
		d.done <- task
	}()
}

// awaitAny blocks until one outstanding write completes and records it.
func (d *Dispatcher) awaitAny() {
	task := <-d.done
	delete(d.inflight, task.ID)
	d.record(task)
}

func (d *Dispatcher) drain() {
	if n := len(d.inflight); n > 0 {
		d.log.WithField("in_flight", n).Debug("draining writes")
	}
	for len(d.inflight) > 0 {
		d.awaitAny()
	}
}

func (d *Dispatcher) record(task *WriteTask) {
	res, err := task.Handle.Result()
	log := d.log.WithFields(logrus.Fields{
		"batch":   task.Bucket.Batch,
		"bucket":  task.Bucket.Index,
		"kind":    task.Bucket.Kind.String(),
		"records": task.Bucket.Len(),
		"latency": time.Since(task.Submitted),
	})

	if err != nil {
		d.stats.FailedWrites++
		log.WithError(err).Error("write failed")
		d.fail(err)
		return
	}

	d.stats.RecordsWritten += int64(task.Bucket.Len())
	d.stats.NodesCreated += res.NodesCreated
	d.stats.RelationshipsCreated += res.RelationshipsCreated
	log.Debugf("write completed %s", res)

	d.stats.Elapsed = time.Since(d.stats.Started)
	for _, obs := range d.observers {
		obs.Progress(d.stats)
	}
}

// fail records a fatal error. The first one stops the run.
func (d *Dispatcher) fail(err error) {
	first := !d.errs.HasErrors()
	d.errs.Add(err)
	if first {
		d.stopped.Store(true)
		d.abortProducer()
	}
}

func (d *Dispatcher) finish(span trace.Span) (Stats, error) {
	d.stats.Elapsed = time.Since(d.stats.Started)
	err := d.errs.Combined()

	log := d.log.WithFields(logrus.Fields{
		"records": d.stats.RecordsWritten,
		"batches": d.stats.Batches,
		"buckets": d.stats.Buckets,
		"elapsed": FormatElapsed(d.stats.Elapsed),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("load failed")
		if stack := pgerrors.Stack(err); stack != "" {
			log.WithField("stack", stack).Debug("failure origin")
		}
	} else {
		log.Info(d.stats.Report())
	}

	for _, obs := range d.observers {
		obs.Finished(d.stats, err)
	}
	return d.stats, err
}
