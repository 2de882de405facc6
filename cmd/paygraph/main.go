// paygraph loads payment transaction streams into a graph store with
// bounded, conflict-free write concurrency.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paygraph/paygraph/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile string
	verbose    bool

	batchSize   int
	parallelism int
	queueDepth  int

	sinkBackend string
	neo4jURI    string
	username    string
	password    string
	useTLS      bool
	duckdbPath  string

	sourceKind string
	inputPath  string
	seed       int64
	steps      int

	redisAddress string
	otlpEndpoint string
	runEnrich    bool

	planBatches int
)

// cfg is the effective configuration, resolved before any command runs.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paygraph",
	Short: "paygraph - load payment transactions into a graph store",
	Long: `paygraph streams payment transactions from a simulator or a PaySim CSV log
into Neo4j or DuckDB. Each batch is split into buckets that share no
participant, so bucket writes can run concurrently without lock contention.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load transactions into the graph store",
	Long: `Load transactions from the configured source into the graph store.

Examples:
  paygraph load
  paygraph load --sink duckdb --duckdb-path graph.duckdb --steps 24
  paygraph load --source csv --input paysim.csv --batch-size 1000 --parallelism 16
  paygraph load --source csv --input s3://logs/paysim.csv --enrich
  paygraph load --redis localhost:6379 --otlp-endpoint localhost:4317`,
	RunE: runLoad,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create constraints and indexes",
	Long:  `Create the graph store's uniqueness constraints and indexes. Safe to run repeatedly.`,
	RunE:  runSchema,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how batches would be partitioned, without writing",
	Long: `Pull batches from the source and print each batch's buckets, packing
threshold and overflow. Use it to tune --batch-size and --parallelism.`,
	RunE: runPlan,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (overrides the standard locations)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	pf.IntVar(&batchSize, "batch-size", 0, "Records per batch (default 500)")
	pf.IntVar(&parallelism, "parallelism", 0, "Buckets per batch and max outstanding writes (default 8)")
	pf.IntVar(&queueDepth, "queue-depth", 0, "Records the simulator may generate ahead (default 5000)")

	pf.StringVar(&sinkBackend, "sink", "", "Graph store: neo4j or duckdb")
	pf.StringVar(&neo4jURI, "uri", "", "Neo4j URI (default bolt://localhost:7687)")
	pf.StringVar(&username, "username", "", "Neo4j username")
	pf.StringVar(&password, "password", "", "Neo4j password")
	pf.BoolVar(&useTLS, "tls", false, "Use an encrypted Neo4j connection")
	pf.StringVar(&duckdbPath, "duckdb-path", "", "DuckDB database file (empty = in-memory)")

	pf.StringVar(&sourceKind, "source", "", "Transaction source: sim or csv")
	pf.StringVar(&inputPath, "input", "", "CSV log path or s3://bucket/key")
	pf.Int64Var(&seed, "seed", 0, "Simulation seed")
	pf.IntVar(&steps, "steps", 0, "Simulation steps")

	loadCmd.Flags().StringVar(&redisAddress, "redis", "", "Publish run status to this Redis address")
	loadCmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "Export traces to this OTLP gRPC endpoint")
	loadCmd.Flags().BoolVar(&runEnrich, "enrich", false, "Run the enrichment passes after a successful load")

	planCmd.Flags().IntVar(&planBatches, "batches", 10, "Number of batches to plan (0 = all)")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(planCmd)
}

// setup configures logging and resolves the effective configuration.
func setup(cmd *cobra.Command, args []string) error {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logrus.SetLevel(logrus.InfoLevel)
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = m.Get()
	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	logrus.WithField("paths", m.GetPaths()).Debug("configuration loaded")
	return nil
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("batch-size", func() { c.Load.BatchSize = batchSize })
	set("parallelism", func() { c.Load.Parallelism = parallelism })
	set("queue-depth", func() { c.Load.QueueDepth = queueDepth })
	set("sink", func() { c.Sink.Backend = sinkBackend })
	set("uri", func() { c.Neo4j.URI = neo4jURI })
	set("username", func() { c.Neo4j.Username = username })
	set("password", func() { c.Neo4j.Password = password })
	set("tls", func() { c.Neo4j.TLS = useTLS })
	set("duckdb-path", func() { c.DuckDB.Path = duckdbPath })
	set("source", func() { c.Source.Kind = sourceKind })
	set("input", func() {
		c.Source.Path = inputPath
		if !flags.Changed("source") {
			c.Source.Kind = "csv"
		}
	})
	set("seed", func() { c.Simulation.Seed = seed })
	set("steps", func() { c.Simulation.Steps = steps })
	set("redis", func() { c.Status.RedisAddress = redisAddress })
	set("otlp-endpoint", func() {
		c.Telemetry.Endpoint = otlpEndpoint
		c.Telemetry.Enabled = true
	})
	set("enrich", func() { c.Enrich.Enabled = runEnrich })
}
