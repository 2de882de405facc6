package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/sirupsen/logrus"
)

// Neo4jConfig configures the Neo4j backend.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string

	// TLS upgrades bolt:// and neo4j:// URIs to their +s variants.
	TLS bool

	MaxPoolSize    int
	ConnectTimeout time.Duration
}

// Neo4jBackend writes to Neo4j over Bolt.
type Neo4jBackend struct {
	cfg    Neo4jConfig
	driver neo4j.DriverWithContext
	log    *logrus.Entry
}

// NewNeo4jBackend connects to Neo4j and verifies connectivity.
func NewNeo4jBackend(ctx context.Context, cfg Neo4jConfig, log *logrus.Entry) (*Neo4jBackend, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	uri := cfg.URI
	if cfg.TLS {
		uri = secureURI(uri)
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.ConnectTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectTimeout
			}
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}

	log.WithFields(logrus.Fields{"uri": uri, "pool": cfg.MaxPoolSize}).Info("connected to neo4j")
	return &Neo4jBackend{cfg: cfg, driver: driver, log: log}, nil
}

func secureURI(uri string) string {
	for _, scheme := range []string{"bolt", "neo4j"} {
		if strings.HasPrefix(uri, scheme+"://") {
			return scheme + "+s://" + strings.TrimPrefix(uri, scheme+"://")
		}
	}
	return uri
}

func (b *Neo4jBackend) Name() string { return "neo4j" }

func (b *Neo4jBackend) Dialect() Dialect { return Cypher{} }

func (b *Neo4jBackend) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: b.cfg.Database,
	})
}

// EnsureSchema runs each schema statement in its own auto-commit
// transaction. Client errors (an equivalent constraint already exists) are
// logged and skipped.
func (b *Neo4jBackend) EnsureSchema(ctx context.Context) error {
	session := b.session(ctx)
	defer session.Close(ctx)

	for _, stmt := range b.Dialect().Schema() {
		result, err := session.Run(ctx, stmt.Text, stmt.Params)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err == nil {
			continue
		}

		var nerr *neo4j.Neo4jError
		if errors.As(err, &nerr) && nerr.Classification() == "ClientError" {
			b.log.WithField("code", nerr.Code).Infof("schema item might already exist: %s", stmt.Text)
			continue
		}
		return fmt.Errorf("failed to apply %q: %w", stmt.Text, err)
	}
	return nil
}

func (b *Neo4jBackend) Execute(ctx context.Context, stmts ...Statement) (WriteResult, error) {
	session := b.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var total WriteResult
		for _, stmt := range stmts {
			if stmt.Text == "" {
				continue
			}
			result, err := tx.Run(ctx, stmt.Text, stmt.Params)
			if err != nil {
				return nil, err
			}
			summary, err := result.Consume(ctx)
			if err != nil {
				return nil, err
			}
			counters := summary.Counters()
			total.Add(WriteResult{
				NodesCreated:         int64(counters.NodesCreated()),
				RelationshipsCreated: int64(counters.RelationshipsCreated()),
				ResultAvailableAfter: summary.ResultAvailableAfter(),
				ResultConsumedAfter:  summary.ResultConsumedAfter(),
			})
		}
		return total, nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return out.(WriteResult), nil
}

func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}
