package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paygraph/paygraph/pkg/config"
	"github.com/paygraph/paygraph/pkg/enrich"
	"github.com/paygraph/paygraph/pkg/ingest"
	"github.com/paygraph/paygraph/pkg/sink"
	"github.com/paygraph/paygraph/pkg/source"
)

// openSink connects the configured backend and wraps it in a Sink.
func openSink(ctx context.Context, c *config.Config, log *logrus.Entry) (*sink.Sink, error) {
	var (
		backend sink.Backend
		err     error
	)
	switch c.Sink.Backend {
	case "duckdb":
		backend, err = sink.NewDuckDBBackend(sink.DuckDBConfig{
			Path:    c.DuckDB.Path,
			Threads: c.DuckDB.Threads,
		}, log)
	default:
		backend, err = sink.NewNeo4jBackend(ctx, sink.Neo4jConfig{
			URI:            c.Neo4j.URI,
			Username:       c.Neo4j.Username,
			Password:       c.Neo4j.Password,
			Database:       c.Neo4j.Database,
			TLS:            c.Neo4j.TLS,
			MaxPoolSize:    c.Neo4j.MaxPoolSize,
			ConnectTimeout: 10 * time.Second,
		}, log)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.Sink.Backend, err)
	}

	return sink.New(backend,
		sink.WithWorkers(c.Workers()),
		sink.WithLogger(log),
	), nil
}

// producer is a source that also reports the population it saw.
type producer interface {
	ingest.Producer
	enrich.Actors
}

// openSource builds the configured producer and returns an estimate of the
// records it will emit, or 0 when unknown.
func openSource(c *config.Config, log *logrus.Entry) (producer, int64, error) {
	switch c.Source.Kind {
	case "csv":
		return source.NewCSVReplay(c.Source.Path, source.S3Config{
			Region:       c.S3.Region,
			Endpoint:     c.S3.Endpoint,
			UsePathStyle: c.S3.UsePathStyle,
		}, log), 0, nil
	default:
		sc := source.SimulationConfig{
			Seed:                c.Simulation.Seed,
			Steps:               c.Simulation.Steps,
			TransactionsPerStep: c.Simulation.TransactionsPerStep,
			Clients:             c.Simulation.Clients,
			Merchants:           c.Simulation.Merchants,
			Banks:               c.Simulation.Banks,
			Mules:               c.Simulation.Mules,
			FraudRate:           c.Simulation.FraudRate,
			MerchantSkew:        c.Simulation.MerchantSkew,
			QueueDepth:          c.Load.QueueDepth,
		}
		sim, err := source.NewSimulator(sc, log)
		if err != nil {
			return nil, 0, err
		}
		return sim, sc.Expected(), nil
	}
}

func closeSink(s *sink.Sink, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		log.WithError(err).Warn("failed to close sink")
	}
}
