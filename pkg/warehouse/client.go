package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	// ErrUnavailable wraps connection and transport failures
	ErrUnavailable = errors.New("warehouse unavailable")
	// ErrStatement wraps errors reported by Postgres for a statement
	ErrStatement = errors.New("warehouse statement failed")
	// ErrNotStarted is returned when the client is used before Start
	ErrNotStarted = errors.New("warehouse client not started")
	// ErrEmptyColumns is returned when a statement is rendered without columns
	ErrEmptyColumns = errors.New("statement requires at least one column")
)

// Tx is the set of operations available inside a warehouse transaction
type Tx interface {
	// Exec runs a statement and returns the number of affected rows
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// CopyFrom bulk loads rows into a table
	CopyFrom(ctx context.Context, table Table, columns []string, rows [][]any) (int64, error)
	// Query runs a query and calls scan for every result row
	Query(ctx context.Context, sql string, args []any, scan func(values []any) error) error
}

// ClientInterface defines the methods for interacting with the warehouse
type ClientInterface interface {
	// Execute runs a single statement outside of a transaction
	Execute(ctx context.Context, sql string, args ...any) (int64, error)
	// InTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Start opens the connection pool
	Start(ctx context.Context) error
	// Stop closes the connection pool
	Stop() error
}

// client implements ClientInterface on a pgx connection pool
type client struct {
	log              logrus.FieldLogger
	cfg              *Config
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

// NewClient creates a new Postgres warehouse client
func NewClient(log logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	return &client{
		log:              log.WithField("component", "warehouse"),
		cfg:              cfg,
		statementTimeout: cfg.StatementTimeout,
	}, nil
}

func (c *client) Start(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(c.cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse warehouse DSN: %w", err)
	}

	poolCfg.MaxConns = c.cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = c.cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()

		return fmt.Errorf("failed to connect to warehouse: %w: %w", ErrUnavailable, err)
	}

	c.pool = pool

	c.log.WithField("max_conns", c.cfg.MaxConns).Info("Connected to warehouse")

	return nil
}

func (c *client) Stop() error {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}

	c.log.Info("Closed warehouse pool")

	return nil
}

func (c *client) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	if c.pool == nil {
		return 0, ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, c.statementTimeout)
	defer cancel()

	return exec(ctx, c.log, c.pool, c.cfg.Debug, sql, args...)
}

func (c *client) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if c.pool == nil {
		return ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, c.statementTimeout)
	defer cancel()

	start := time.Now()

	pgTx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin", start, err)
	}

	if err := fn(&tx{log: c.log, tx: pgTx, debug: c.cfg.Debug}); err != nil {
		if rbErr := pgTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.log.WithError(rbErr).Warn("Failed to roll back transaction")
		}

		observability.RecordWarehouseStatement("rollback", "success", time.Since(start).Seconds())

		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return classify("commit", start, err)
	}

	observability.RecordWarehouseStatement("commit", "success", time.Since(start).Seconds())

	return nil
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func exec(ctx context.Context, log logrus.FieldLogger, db execer, debug bool, sql string, args ...any) (int64, error) {
	if debug {
		log.WithField("sql", sql).Debug("Executing statement")
	}

	start := time.Now()

	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify("exec", start, err)
	}

	observability.RecordWarehouseStatement("exec", "success", time.Since(start).Seconds())

	return tag.RowsAffected(), nil
}

// tx implements Tx on a pgx transaction
type tx struct {
	log   logrus.FieldLogger
	tx    pgx.Tx
	debug bool
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return exec(ctx, t.log, t.tx, t.debug, sql, args...)
}

func (t *tx) CopyFrom(ctx context.Context, table Table, columns []string, rows [][]any) (int64, error) {
	start := time.Now()

	n, err := t.tx.CopyFrom(ctx, table.Identifier(), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, classify("copy", start, err)
	}

	observability.RecordWarehouseStatement("copy", "success", time.Since(start).Seconds())

	t.log.WithFields(logrus.Fields{
		"table": table.String(),
		"rows":  n,
	}).Debug("Copied rows")

	return n, nil
}

func (t *tx) Query(ctx context.Context, sql string, args []any, scan func(values []any) error) error {
	if t.debug {
		t.log.WithField("sql", sql).Debug("Executing query")
	}

	start := time.Now()

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return classify("query", start, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return classify("query", start, err)
		}

		if err := scan(values); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return classify("query", start, err)
	}

	observability.RecordWarehouseStatement("query", "success", time.Since(start).Seconds())

	return nil
}

// classify wraps Postgres errors with ErrStatement and everything else with
// ErrUnavailable
func classify(kind string, start time.Time, err error) error {
	observability.RecordWarehouseStatement(kind, "error", time.Since(start).Seconds())
	observability.RecordError("warehouse", kind)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w: %s (%s): %w", kind, ErrStatement, pgErr.Message, pgErr.Code, err)
	}

	return fmt.Errorf("%s: %w: %w", kind, ErrUnavailable, err)
}
