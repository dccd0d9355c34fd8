package analytics

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	flowerrors "github.com/flowcore/core/pkg/errors"
)

// Sink pushes a batch of Cypher statements to an external analytics store.
// The production implementation is Neo4jSink; tests substitute a fake.
type Sink interface {
	Push(ctx context.Context, statements []string) error
	Close(ctx context.Context) error
}

// Neo4jSink executes exported Cypher statements against a Neo4j database
// inside a single write transaction per push, so a partial failure never
// leaves the external graph half-updated for one export.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jSink opens a driver against uri using basic auth and verifies
// connectivity before returning.
func NewNeo4jSink(ctx context.Context, uri, username, password, database string) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, flowerrors.Internal("analytics.sink", "new-driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, flowerrors.Unavailable("analytics.sink", "neo4j connectivity check failed").Wrap(err)
	}
	return &Neo4jSink{driver: driver, database: database}, nil
}

// Push runs every statement in order inside one explicit transaction.
func (s *Neo4jSink) Push(ctx context.Context, statements []string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, stmt := range statements {
			if _, err := tx.Run(ctx, stmt, nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return flowerrors.Unavailable("analytics.sink", "push transaction failed").Wrap(err)
	}
	return nil
}

// Close releases the underlying driver's connection pool.
func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var _ Sink = (*Neo4jSink)(nil)

// pushTimeout bounds a single push's driver-level round trip, per the
// design note that export failures must never block on an unresponsive
// external store.
const pushTimeout = 30 * time.Second
