package neo4jdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Tx runs statements inside one transaction and returns every record as a
// column -> value map.
type Tx interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Session is the slice of a driver session the loaders need. Transactions are
// explicit: a failed function rolls back and is never retried.
type Session interface {
	WriteTransaction(ctx context.Context, fn func(Tx) error) error
	ReadTransaction(ctx context.Context, fn func(Tx) error) error
	Close(ctx context.Context) error
}

// NewSession opens a session on the configured database.
func (c *Client) NewSession(ctx context.Context) Session {
	return &driverSession{
		s: c.Driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   neo4j.AccessModeWrite,
			DatabaseName: c.Database,
		}),
	}
}

type driverSession struct {
	s neo4j.SessionWithContext
}

func (d *driverSession) WriteTransaction(ctx context.Context, fn func(Tx) error) error {
	return d.run(ctx, fn)
}

func (d *driverSession) ReadTransaction(ctx context.Context, fn func(Tx) error) error {
	return d.run(ctx, fn)
}

func (d *driverSession) run(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := d.s.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("neo4jdb: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
		_ = tx.Close(ctx)
	}()
	if err = fn(explicitTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("neo4jdb: commit: %w", err)
	}
	return nil
}

func (d *driverSession) Close(ctx context.Context) error {
	return d.s.Close(ctx)
}

type explicitTx struct {
	tx neo4j.ExplicitTransaction
}

func (e explicitTx) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	res, err := e.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	recs, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.AsMap())
	}
	return out, nil
}

const constraintViolationCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

// IsConstraintViolation reports whether err is a uniqueness constraint failure.
func IsConstraintViolation(err error) bool {
	var nerr *neo4j.Neo4jError
	return errors.As(err, &nerr) && nerr.Code == constraintViolationCode
}
