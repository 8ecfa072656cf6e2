// -----------------------------------------------------------------------
// Graph Store - Neo4j adapter for all pipeline graph writes and reads
// -----------------------------------------------------------------------

package graph

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/models"
)

const (
	maxTransientRetries = 3
	retryBaseDelay      = 500 * time.Millisecond
	retryMultiplier     = 1.5
)

// Store implements interfaces.GraphStore over the Neo4j bolt driver
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.GraphStore = (*Store)(nil)

// NewStore connects to Neo4j and verifies connectivity
func NewStore(ctx context.Context, cfg *common.GraphConfig, logger arbor.ILogger) (*Store, error) {
	connectionTimeout, err := time.ParseDuration(cfg.ConnectionTimeout)
	if err != nil {
		connectionTimeout = 30 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			c.MaxConnectionPoolSize = cfg.PoolSize
			c.ConnectionAcquisitionTimeout = connectionTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph database unreachable at %s: %w", cfg.URI, err)
	}

	logger.Info().
		Str("uri", cfg.URI).
		Str("database", cfg.Database).
		Int("pool_size", cfg.PoolSize).
		Msg("Graph store connected")

	return &Store{
		driver:   driver,
		database: cfg.Database,
		logger:   logger,
	}, nil
}

// Classify maps a driver error to the error taxonomy. Transient failures
// (connection resets, leader elections, transaction lock contention) are
// retryable; everything else surfaces as a query error.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return ""
	}
	if neo4j.IsRetryable(err) {
		return models.ErrTransientGraph
	}
	if neo4j.IsConnectivityError(err) {
		return models.ErrConnection
	}
	return models.ErrQuery
}

func (s *Store) session(ctx context.Context, write bool) neo4j.SessionWithContext {
	mode := neo4j.AccessModeRead
	if write {
		mode = neo4j.AccessModeWrite
	}
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// ExecuteRead runs a parameterized read query
func (s *Store) ExecuteRead(ctx context.Context, query string, params map[string]any) ([]interfaces.Row, error) {
	session := s.session(ctx, false)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, query, params)
	})
	if err != nil {
		return nil, s.queryError("read", query, err)
	}
	return result.([]interfaces.Row), nil
}

// ExecuteWrite runs a parameterized query in a write transaction
func (s *Store) ExecuteWrite(ctx context.Context, query string, params map[string]any) ([]interfaces.Row, error) {
	session := s.session(ctx, true)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, query, params)
	})
	if err != nil {
		return nil, s.queryError("write", query, err)
	}
	return result.([]interfaces.Row), nil
}

// ExecuteBatch executes multiple statements in a single transaction,
// atomic across statements.
func (s *Store) ExecuteBatch(ctx context.Context, statements []interfaces.Statement, write bool) ([][]interfaces.Row, error) {
	session := s.session(ctx, write)
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		results := make([][]interfaces.Row, 0, len(statements))
		for _, stmt := range statements {
			rows, err := collectRows(ctx, tx, stmt.Query, stmt.Params)
			if err != nil {
				return nil, err
			}
			results = append(results, rows)
		}
		return results, nil
	}

	var result any
	var err error
	if write {
		result, err = session.ExecuteWrite(ctx, work)
	} else {
		result, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, s.queryError("batch", fmt.Sprintf("%d statements", len(statements)), err)
	}
	return result.([][]interfaces.Row), nil
}

// WithTransaction runs fn inside an explicit write transaction, retried on
// classified transient errors with exponential backoff and jitter.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx interfaces.GraphTransaction) error) error {
	var lastErr error

	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			s.logger.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying graph transaction after transient error")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = s.runTransaction(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) != models.ErrTransientGraph {
			return lastErr
		}
	}

	return fmt.Errorf("graph transaction failed after %d retries: %w", maxTransientRetries, lastErr)
}

func (s *Store) runTransaction(ctx context.Context, fn func(tx interfaces.GraphTransaction) error) error {
	session := s.session(ctx, true)
	defer session.Close(ctx)

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	wrapped := &transaction{ctx: ctx, tx: tx}
	if err := fn(wrapped); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// transaction adapts a driver transaction to interfaces.GraphTransaction
type transaction struct {
	ctx context.Context
	tx  neo4j.ExplicitTransaction
}

func (t *transaction) Run(ctx context.Context, query string, params map[string]any) ([]interfaces.Row, error) {
	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return recordsToRows(records), nil
}

// queryError wraps a driver error with query context. Parameters are never
// included: they may carry file content or credentials.
func (s *Store) queryError(op, query string, err error) error {
	kind := Classify(err)
	return fmt.Errorf("%s: graph %s failed (%s): %w", kind, op, truncateQuery(query), err)
}

func truncateQuery(query string) string {
	const max = 120
	if len(query) <= max {
		return query
	}
	return query[:max] + "..."
}

func collectRows(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]interfaces.Row, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return recordsToRows(records), nil
}

func recordsToRows(records []*neo4j.Record) []interfaces.Row {
	rows := make([]interfaces.Row, 0, len(records))
	for _, record := range records {
		row := make(interfaces.Row, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = record.Values[i]
		}
		rows = append(rows, row)
	}
	return rows
}

// backoffDelay computes base * multiplier^(attempt-1) with jitter
func backoffDelay(attempt int) time.Duration {
	delay := float64(retryBaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= retryMultiplier
	}
	jitter := 0.5 + rand.Float64() // 0.5x - 1.5x
	return time.Duration(delay * jitter)
}
