// Package enrich runs the post-load passes over a populated graph: mule
// labelling, client identities, merchant and bank properties, and per-client
// transaction threading. Passes run in order; the chunks of one pass run
// concurrently up to a limit.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/paygraph/paygraph/internal/model"
	"github.com/paygraph/paygraph/pkg/sink"
)

// Actors exposes the population a producer saw or generated.
type Actors interface {
	Clients() []model.Actor
	Merchants() []model.Actor
	Banks() []model.Actor
	Mules() []model.Actor
	Identities() []model.Identity
}

// Sink is the synchronous part of the sink the passes need.
type Sink interface {
	Dialect() sink.Dialect
	ExecuteSync(ctx context.Context, stmt sink.Statement) (sink.WriteResult, error)
	ExecuteBatchSync(ctx context.Context, stmts []sink.Statement) (sink.WriteResult, error)
}

var _ Sink = (*sink.Sink)(nil)

// PassResult is the outcome of one pass.
type PassResult struct {
	Name    string
	Chunks  int
	Result  sink.WriteResult
	Elapsed time.Duration
}

// Runner executes the enrichment passes.
type Runner struct {
	sink      Sink
	chunkSize int
	limit     int
	log       *logrus.Entry
}

// NewRunner creates a runner. chunkSize is the number of actors per
// statement (the load batch size); limit bounds concurrent chunks.
func NewRunner(s Sink, chunkSize, limit int, log *logrus.Entry) *Runner {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if limit < 1 {
		limit = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		sink:      s,
		chunkSize: chunkSize,
		limit:     limit,
		log:       log.WithField("component", "enrich"),
	}
}

// Run executes every pass in order and stops at the first failing pass.
func (r *Runner) Run(ctx context.Context, actors Actors) ([]PassResult, error) {
	dialect := r.sink.Dialect()

	passes := []struct {
		name  string
		build func() [][]sink.Statement
	}{
		{"label_mules", func() [][]sink.Statement {
			if len(actors.Mules()) == 0 {
				return nil
			}
			return [][]sink.Statement{{dialect.LabelMules()}}
		}},
		{"client_identities", func() [][]sink.Statement {
			var out [][]sink.Statement
			for _, chunk := range chunks(actors.Identities(), r.chunkSize) {
				out = append(out, []sink.Statement{dialect.ClientIdentities(chunk)})
			}
			return out
		}},
		{"actor_properties", func() [][]sink.Statement {
			var withProps []model.Actor
			for _, group := range [][]model.Actor{actors.Merchants(), actors.Banks()} {
				for _, a := range group {
					if len(a.Properties) > 0 {
						withProps = append(withProps, a)
					}
				}
			}
			var out [][]sink.Statement
			for _, chunk := range chunks(withProps, r.chunkSize) {
				stmts := make([]sink.Statement, len(chunk))
				for i, a := range chunk {
					stmts[i] = dialect.UpdateProperties(a)
				}
				out = append(out, stmts)
			}
			return out
		}},
		{"thread_transactions", func() [][]sink.Statement {
			ids := actorIDs(actors.Clients(), actors.Mules())
			var out [][]sink.Statement
			for _, chunk := range chunks(ids, r.chunkSize) {
				out = append(out, dialect.ThreadTransactions(chunk))
			}
			return out
		}},
	}

	results := make([]PassResult, 0, len(passes))
	for _, p := range passes {
		res, err := r.runPass(ctx, p.name, p.build())
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Runner) runPass(ctx context.Context, name string, work [][]sink.Statement) (PassResult, error) {
	res := PassResult{Name: name, Chunks: len(work)}
	log := r.log.WithField("pass", name)
	if len(work) == 0 {
		log.Debug("nothing to enrich")
		return res, nil
	}

	start := time.Now()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, stmts := range work {
		stmts := stmts
		g.Go(func() error {
			var (
				wr  sink.WriteResult
				err error
			)
			if len(stmts) == 1 {
				wr, err = r.sink.ExecuteSync(gctx, stmts[0])
			} else {
				wr, err = r.sink.ExecuteBatchSync(gctx, stmts)
			}
			if err != nil {
				return err
			}
			mu.Lock()
			res.Result.Add(wr)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	res.Elapsed = time.Since(start)
	if err != nil {
		log.WithError(err).Error("enrichment pass failed")
		return res, fmt.Errorf("enrich %s: %w", name, err)
	}

	log.WithFields(logrus.Fields{
		"chunks":  res.Chunks,
		"result":  res.Result.String(),
		"elapsed": res.Elapsed.Round(time.Millisecond),
	}).Info("enrichment pass complete")
	return res, nil
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

func actorIDs(groups ...[]model.Actor) []string {
	var ids []string
	for _, g := range groups {
		for _, a := range g {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
