package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/paygraph/paygraph/internal/model"
	pgerrors "github.com/paygraph/paygraph/pkg/errors"
	"github.com/paygraph/paygraph/pkg/sink"
)

// mockProducer yields a fixed slice of records.
type mockProducer struct {
	mu      sync.Mutex
	records []model.Transaction
	pos     int
	running bool
	aborted bool
	failAt  int
	runErr  error

	aborts atomic.Int32
}

func newMockProducer(records []model.Transaction) *mockProducer {
	return &mockProducer{records: records, failAt: -1}
}

func (p *mockProducer) Run() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runErr != nil {
		return p.runErr
	}
	p.running = true
	return nil
}

func (p *mockProducer) HasNext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && !p.aborted && p.pos < len(p.records)
}

func (p *mockProducer) Next() (model.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos == p.failAt {
		return model.Transaction{}, errors.New("generator crashed")
	}
	if p.aborted || p.pos >= len(p.records) {
		return model.Transaction{}, pgerrors.Exhausted("mock")
	}
	tx := p.records[p.pos]
	p.pos++
	return tx, nil
}

func (p *mockProducer) Abort() error {
	p.aborts.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return pgerrors.AlreadyAborted("mock")
	}
	p.aborted = true
	return nil
}

// mockSink runs each write on its own goroutine and tracks how many run at
// once.
type mockSink struct {
	delay    time.Duration
	failOn   func(model.Bucket) bool
	onSubmit func(model.Bucket)
	hold     func(n int32)

	active    atomic.Int32
	peak      atomic.Int32
	submitted atomic.Int32

	mu      sync.Mutex
	written map[int64]int
}

func newMockSink() *mockSink {
	return &mockSink{written: make(map[int64]int)}
}

func (s *mockSink) EnsureSchema(context.Context) error { return nil }

func (s *mockSink) ExecuteSync(context.Context, sink.Statement) (sink.WriteResult, error) {
	return sink.WriteResult{}, nil
}

func (s *mockSink) ExecuteBatchSync(context.Context, []sink.Statement) (sink.WriteResult, error) {
	return sink.WriteResult{}, nil
}

func (s *mockSink) SubmitWriteAsync(ctx context.Context, bucket model.Bucket) sink.Handle {
	n := s.submitted.Add(1)
	if s.onSubmit != nil {
		s.onSubmit(bucket)
	}
	return sink.Go(func() (sink.WriteResult, error) {
		if s.hold != nil {
			s.hold(n)
		}
		active := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			peak := s.peak.Load()
			if active <= peak || s.peak.CompareAndSwap(peak, active) {
				break
			}
		}
		time.Sleep(s.delay)

		if s.failOn != nil && s.failOn(bucket) {
			return sink.WriteResult{}, pgerrors.New(pgerrors.CodeWriteFailed, "store unavailable")
		}

		s.mu.Lock()
		for _, tx := range bucket.Transactions {
			s.written[tx.GlobalStep]++
		}
		s.mu.Unlock()
		return sink.WriteResult{
			NodesCreated:         int64(bucket.Len()),
			RelationshipsCreated: int64(2 * bucket.Len()),
		}, nil
	})
}

type recordingObserver struct {
	progress int
	finished int
	last     Stats
	err      error
}

func (o *recordingObserver) Progress(stats Stats) {
	o.progress++
	o.last = stats
}

func (o *recordingObserver) Finished(stats Stats, err error) {
	o.finished++
	o.last = stats
	o.err = err
}

func randomRecords(n int, seed int64) []model.Transaction {
	rng := rand.New(rand.NewSource(seed))
	zipf := rand.NewZipf(rng, 1.4, 1, 50)
	records := make([]model.Transaction, n)
	for i := range records {
		records[i] = model.Transaction{
			GlobalStep:   int64(i),
			SenderID:     fmt.Sprintf("C%d", rng.Intn(500)),
			SenderKind:   model.ActorClient,
			ReceiverID:   fmt.Sprintf("M%d", zipf.Uint64()),
			ReceiverKind: model.ActorMerchant,
			Action:       model.ActionPayment,
			Amount:       float64(rng.Intn(10000)) / 100,
		}
	}
	return records
}

func quietLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func TestDispatcherWritesEveryRecordOnce(t *testing.T) {
	records := randomRecords(2000, 1)
	producer := newMockProducer(records)
	s := newMockSink()
	s.delay = time.Millisecond
	obs := &recordingObserver{}
	log, _ := quietLogger()

	d := NewDispatcher(producer, s, Config{BatchSize: 100, Parallelism: 4},
		WithLogger(log), WithObserver(obs))
	stats, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.RecordsWritten != int64(len(records)) {
		t.Errorf("records written = %d, want %d", stats.RecordsWritten, len(records))
	}
	if stats.RecordsSubmitted != stats.RecordsWritten {
		t.Errorf("submitted %d, written %d", stats.RecordsSubmitted, stats.RecordsWritten)
	}
	if stats.Batches != 20 {
		t.Errorf("batches = %d, want 20", stats.Batches)
	}
	if stats.NodesCreated != int64(len(records)) || stats.RelationshipsCreated != int64(2*len(records)) {
		t.Errorf("counters not aggregated: %+v", stats)
	}
	for _, tx := range records {
		if n := s.written[tx.GlobalStep]; n != 1 {
			t.Fatalf("record %d written %d times", tx.GlobalStep, n)
		}
	}
	if obs.finished != 1 || obs.err != nil {
		t.Errorf("observer finished %d times with %v", obs.finished, obs.err)
	}
	if int64(obs.progress) != stats.Buckets {
		t.Errorf("observer saw %d writes, dispatcher submitted %d", obs.progress, stats.Buckets)
	}
}

func TestDispatcherBoundsOutstandingWrites(t *testing.T) {
	for _, p := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("P=%d", p), func(t *testing.T) {
			s := newMockSink()
			s.delay = 2 * time.Millisecond
			log, _ := quietLogger()

			d := NewDispatcher(newMockProducer(randomRecords(600, int64(p))), s,
				Config{BatchSize: 60, Parallelism: p}, WithLogger(log))
			stats, err := d.Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if peak := int(s.peak.Load()); peak > p {
				t.Errorf("peak concurrent writes %d exceeds P=%d", peak, p)
			}
			if stats.MaxInFlight > p {
				t.Errorf("max in flight %d exceeds P=%d", stats.MaxInFlight, p)
			}
		})
	}
}

func TestDispatcherFreesSlotOfFirstCompletedWrite(t *testing.T) {
	// The first write only completes once four more have been submitted,
	// which needs its slot to stay taken while the other one is reused.
	release := make(chan struct{})
	s := newMockSink()
	s.onSubmit = func(model.Bucket) {
		if s.submitted.Load() == 5 {
			close(release)
		}
	}
	s.hold = func(n int32) {
		if n == 1 {
			<-release
		}
	}
	log, _ := quietLogger()

	records := randomRecords(600, 8)
	d := NewDispatcher(newMockProducer(records), s,
		Config{BatchSize: 60, Parallelism: 2}, WithLogger(log))

	type outcome struct {
		stats Stats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := d.Run(context.Background())
		done <- outcome{stats, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatal(out.err)
		}
		if out.stats.RecordsWritten != int64(len(records)) {
			t.Errorf("records written = %d, want %d", out.stats.RecordsWritten, len(records))
		}
		if out.stats.MaxInFlight > 2 {
			t.Errorf("max in flight %d exceeds P=2", out.stats.MaxInFlight)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("dispatcher waited on the blocked write instead of a completed one")
	}
}

func TestDispatcherFlushesPartialBatch(t *testing.T) {
	s := newMockSink()
	log, _ := quietLogger()

	d := NewDispatcher(newMockProducer(randomRecords(250, 3)), s,
		Config{BatchSize: 100, Parallelism: 3}, WithLogger(log))
	stats, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Batches != 3 {
		t.Errorf("batches = %d, want 3", stats.Batches)
	}
	if stats.RecordsWritten != 250 {
		t.Errorf("records written = %d, want 250", stats.RecordsWritten)
	}
}

func TestDispatcherWriteFailureAbortsAndDrains(t *testing.T) {
	producer := newMockProducer(randomRecords(5000, 4))
	s := newMockSink()
	s.delay = 2 * time.Millisecond
	s.failOn = func(b model.Bucket) bool { return b.Batch == 2 }
	log, hook := quietLogger()

	d := NewDispatcher(producer, s, Config{BatchSize: 100, Parallelism: 4}, WithLogger(log))
	stats, err := d.Run(context.Background())

	if !pgerrors.IsCode(err, pgerrors.CodeWriteFailed) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if got := producer.aborts.Load(); got != 1 {
		t.Errorf("producer aborted %d times, want 1", got)
	}
	if active := s.active.Load(); active != 0 {
		t.Errorf("%d writes still running after Run returned", active)
	}
	if stats.FailedWrites == 0 {
		t.Error("failed writes not counted")
	}
	if stats.Batches >= 50 {
		t.Errorf("dispatcher kept consuming after failure: %d batches", stats.Batches)
	}
	if int64(s.submitted.Load()) != stats.Buckets {
		t.Errorf("sink saw %d submissions, stats report %d", s.submitted.Load(), stats.Buckets)
	}

	found, origin := false, false
	for _, e := range hook.AllEntries() {
		if e.Message == "write failed" && e.Level == logrus.ErrorLevel {
			found = true
		}
		if e.Message == "failure origin" && e.Level == logrus.DebugLevel {
			stack, _ := e.Data["stack"].(string)
			origin = strings.Contains(stack, "SubmitWriteAsync")
		}
	}
	if !found {
		t.Error("write failure was not logged")
	}
	if !origin {
		t.Error("stack of the failing write was not logged")
	}
}

func TestDispatcherDoubleAbortIsLogged(t *testing.T) {
	producer := newMockProducer(randomRecords(1000, 5))
	s := newMockSink()
	log, hook := quietLogger()

	var d *Dispatcher
	var once sync.Once
	s.onSubmit = func(model.Bucket) {
		// An external stop races with the failing write below.
		once.Do(d.Abort)
	}
	s.failOn = func(model.Bucket) bool { return true }

	d = NewDispatcher(producer, s, Config{BatchSize: 50, Parallelism: 2}, WithLogger(log))
	_, err := d.Run(context.Background())

	if !pgerrors.IsCode(err, pgerrors.CodeWriteFailed) {
		t.Fatalf("expected the write failure to be returned, got %v", err)
	}
	if pgerrors.IsCode(err, pgerrors.CodeAlreadyAborted) {
		t.Fatal("second abort must not be propagated")
	}
	if got := producer.aborts.Load(); got != 2 {
		t.Errorf("producer aborted %d times, want 2", got)
	}

	stopped := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "producer already stopped" {
			stopped++
		}
	}
	if stopped != 1 {
		t.Errorf("logged %d already-stopped entries, want 1", stopped)
	}
}

func TestDispatcherProducerFailure(t *testing.T) {
	producer := newMockProducer(randomRecords(500, 6))
	producer.failAt = 230
	s := newMockSink()
	log, _ := quietLogger()

	d := NewDispatcher(producer, s, Config{BatchSize: 100, Parallelism: 2}, WithLogger(log))
	stats, err := d.Run(context.Background())

	if !pgerrors.IsCode(err, pgerrors.CodeProducerFailed) {
		t.Fatalf("expected producer failure, got %v", err)
	}
	if stats.RecordsWritten != 200 {
		t.Errorf("records written = %d, want the 200 pulled before the failure", stats.RecordsWritten)
	}
	if producer.aborts.Load() != 1 {
		t.Errorf("producer aborted %d times, want 1", producer.aborts.Load())
	}
}

func TestDispatcherProducerRunFailure(t *testing.T) {
	producer := newMockProducer(nil)
	producer.runErr = errors.New("no seed")
	log, _ := quietLogger()

	d := NewDispatcher(producer, newMockSink(), Config{BatchSize: 10, Parallelism: 2}, WithLogger(log))
	if _, err := d.Run(context.Background()); !pgerrors.IsCode(err, pgerrors.CodeProducerFailed) {
		t.Fatalf("expected producer failure, got %v", err)
	}
}

func TestDispatcherCanceledContext(t *testing.T) {
	producer := newMockProducer(randomRecords(1000, 7))
	s := newMockSink()
	log, _ := quietLogger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(producer, s, Config{BatchSize: 100, Parallelism: 2}, WithLogger(log))
	stats, err := d.Run(ctx)
	if !pgerrors.IsCode(err, pgerrors.CodeContextCanceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation should wrap the context error: %v", err)
	}
	if stats.Buckets != 0 || s.submitted.Load() != 0 {
		t.Errorf("nothing should be submitted after cancellation")
	}
	if producer.aborts.Load() != 1 {
		t.Errorf("producer aborted %d times, want 1", producer.aborts.Load())
	}
}

func TestDispatcherRunsOnce(t *testing.T) {
	log, _ := quietLogger()
	d := NewDispatcher(newMockProducer(nil), newMockSink(), Config{BatchSize: 10, Parallelism: 1}, WithLogger(log))
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); !pgerrors.IsCode(err, pgerrors.CodeAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
}

func TestDispatcherOverflowIsWritten(t *testing.T) {
	// One hub receives every payment, so each batch is a single component
	// larger than the threshold.
	records := make([]model.Transaction, 40)
	for i := range records {
		records[i] = model.Transaction{
			GlobalStep: int64(i),
			SenderID:   fmt.Sprintf("C%d", i),
			ReceiverID: "M-hub",
			Action:     model.ActionPayment,
		}
	}
	s := newMockSink()
	log, hook := quietLogger()

	d := NewDispatcher(newMockProducer(records), s, Config{BatchSize: 20, Parallelism: 4}, WithLogger(log))
	stats, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.OverflowRecords != 40 || stats.RecordsWritten != 40 {
		t.Errorf("overflow %d, written %d", stats.OverflowRecords, stats.RecordsWritten)
	}

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "records routed to overflow bucket" {
			warned = true
		}
	}
	if !warned {
		t.Error("overflow was not reported")
	}
}
