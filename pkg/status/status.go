// Package status publishes the running totals of a load so that operators
// can follow it from outside the process. Publication is best effort: a
// failing store is logged and never affects the load.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paygraph/paygraph/pkg/ingest"
)

// Phase is the lifecycle stage of a run.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// RunStatus is the published view of one load.
type RunStatus struct {
	ID      string
	Phase   Phase
	Source  string
	Backend string

	Batches              int64
	Buckets              int64
	OverflowRecords      int64
	RecordsWritten       int64
	NodesCreated         int64
	RelationshipsCreated int64
	FailedWrites         int64
	Throughput           float64

	Error     string
	StartedAt time.Time
	UpdatedAt time.Time
}

// Store persists run statuses.
type Store interface {
	Save(ctx context.Context, st *RunStatus) error
	Load(ctx context.Context, id string) (*RunStatus, error)
	Close() error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Publisher is an ingest.Observer that saves the running totals at most
// once per interval, and always once when the run finishes.
//
// Progress never waits on the store: snapshots go to a background writer
// that keeps only the latest one. Finished stops the writer and saves the
// final status before returning.
type Publisher struct {
	store    Store
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry
	now      func() time.Time

	pending chan RunStatus
	done    chan struct{}

	mu       sync.Mutex
	status   RunStatus
	last     time.Time
	finished bool
}

var _ ingest.Observer = (*Publisher)(nil)

// NewPublisher creates a publisher for the run id and starts its writer.
func NewPublisher(store Store, id, source, backend string, interval time.Duration, log *logrus.Entry) *Publisher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Publisher{
		store:    store,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log.WithFields(logrus.Fields{"component": "status", "run_id": id}),
		now:      time.Now,
		pending:  make(chan RunStatus, 1),
		done:     make(chan struct{}),
		status: RunStatus{
			ID:      id,
			Phase:   PhaseRunning,
			Source:  source,
			Backend: backend,
		},
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for st := range p.pending {
		p.save(st)
	}
}

// Progress queues stats for publishing unless the last one is younger than
// the interval. A snapshot the writer has not picked up yet is replaced.
func (p *Publisher) Progress(stats ingest.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	p.apply(stats, now)

	select {
	case <-p.pending:
	default:
	}
	p.pending <- p.status
}

// Finished waits for queued snapshots, then saves the final totals and
// outcome. Later calls are ignored.
func (p *Publisher) Finished(stats ingest.Stats, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.finished = true
	close(p.pending)
	<-p.done

	p.apply(stats, p.now())
	p.status.Phase = PhaseComplete
	if err != nil {
		p.status.Phase = PhaseFailed
		p.status.Error = err.Error()
	}
	p.save(p.status)
}

// Status returns a copy of the last published status.
func (p *Publisher) Status() RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Publisher) apply(stats ingest.Stats, now time.Time) {
	st := &p.status
	st.Batches = stats.Batches
	st.Buckets = stats.Buckets
	st.OverflowRecords = stats.OverflowRecords
	st.RecordsWritten = stats.RecordsWritten
	st.NodesCreated = stats.NodesCreated
	st.RelationshipsCreated = stats.RelationshipsCreated
	st.FailedWrites = stats.FailedWrites
	st.Throughput = stats.Throughput()
	st.StartedAt = stats.Started
	st.UpdatedAt = now
}

func (p *Publisher) save(st RunStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.store.Save(ctx, &st); err != nil {
		p.log.WithError(err).Warn("failed to publish run status")
	}
}
