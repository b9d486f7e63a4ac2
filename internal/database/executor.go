package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rzpsarthak13/botstore/internal/core"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrRetriesExhausted wraps the last failure once every attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNonRetryable wraps a failure the retry classifier rejected.
	ErrNonRetryable = errors.New("non-retryable database error")
)

// Row is one fetched row keyed by column name.
type Row map[string]interface{}

// Statement is one entry of an ExecuteBatch call.
type Statement struct {
	Query string
	Args  []interface{}
}

// ExecutorConfig tunes retries.
type ExecutorConfig struct {
	// MaxAttempts is the total number of attempts per operation.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// AttemptTimeout bounds each attempt when positive.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`

	// RetryBackoff is the base pause between attempts, jittered by up to 50%.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`

	// Retryable classifies failures. Defaults to IsRetryable.
	Retryable func(error) bool `yaml:"-" json:"-"`
}

// DefaultExecutorConfig returns three attempts, no timeout and no backoff.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxAttempts: 3}
}

// Executor serializes every statement through one lazily opened connection.
// Operations queue on a mutex, so at most one statement is in flight and
// callers observe a total order of operations.
type Executor struct {
	connector Connector
	cfg       ExecutorConfig

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// NewExecutor returns an Executor over connector. No connection is opened
// until the first operation.
func NewExecutor(connector Connector, cfg ExecutorConfig) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsRetryable
	}
	return &Executor{connector: connector, cfg: cfg}
}

// Execute runs a statement that returns no rows and reports rows affected.
func (e *Executor) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	args, err := encodeArgs(args)
	if err != nil {
		return 0, err
	}
	var affected int64
	err = e.run(ctx, query, func(ctx context.Context, conn Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// ExecuteBatch runs statements in order as one unit. With transactional set
// they are wrapped in BEGIN/COMMIT and rolled back on failure; the whole unit
// is retried on transient errors.
func (e *Executor) ExecuteBatch(ctx context.Context, stmts []Statement, transactional bool) error {
	encoded := make([]Statement, len(stmts))
	for i, s := range stmts {
		args, err := encodeArgs(s.Args)
		if err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
		encoded[i] = Statement{Query: s.Query, Args: args}
	}
	if len(encoded) == 0 {
		return nil
	}

	return e.run(ctx, encoded[0].Query, func(ctx context.Context, conn Conn) error {
		if transactional {
			if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
				return err
			}
		}
		for _, s := range encoded {
			if _, err := conn.ExecContext(ctx, s.Query, s.Args...); err != nil {
				if transactional {
					if _, rbErr := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
						log.WithFields(log.Fields{"err": rbErr}).Warn("rollback failed")
					}
				}
				return err
			}
		}
		if transactional {
			if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchAll returns every row of a query. An empty result is an empty slice.
func (e *Executor) FetchAll(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	args, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	var out []Row
	err = e.run(ctx, query, func(ctx context.Context, conn Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = scanRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Row{}
	}
	return out, nil
}

// FetchOne returns the first row of a query, or nil with a nil error when
// the query matched nothing.
func (e *Executor) FetchOne(ctx context.Context, query string, args ...interface{}) (Row, error) {
	rows, err := e.FetchAll(ctx, query, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FetchScalar returns the first column of the first row, or nil with a nil
// error when the query matched nothing.
func (e *Executor) FetchScalar(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	args, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = e.run(ctx, query, func(ctx context.Context, conn Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.ColumnTypes()
		if err != nil {
			return err
		}
		out = nil
		if rows.Next() {
			vals := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			if len(vals) > 0 {
				out = convertColumn(cols[0].DatabaseTypeName(), vals[0])
			}
		}
		return rows.Err()
	})
	return out, err
}

// Close waits for the in-flight operation, then releases the connection and
// the connector. Later operations fail with core.ErrClosed.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.conn != nil {
		errs = append(errs, e.conn.Close())
		e.conn = nil
	}
	errs = append(errs, e.connector.Close())
	return errors.Join(errs...)
}

func (e *Executor) run(ctx context.Context, query string, fn func(context.Context, Conn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return core.ErrClosed
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err := e.attempt(ctx, fn)
		if err == nil {
			executorAttemptsTotal.WithLabelValues("ok").Inc()
			return nil
		}
		lastErr = err

		retryable := e.cfg.Retryable(err)
		log.WithFields(log.Fields{
			"attempt":   attempt,
			"of":        e.cfg.MaxAttempts,
			"query":     abbreviate(query),
			"retryable": retryable,
			"err":       err,
		}).Error("database operation failed")

		if !retryable {
			executorAttemptsTotal.WithLabelValues("fatal").Inc()
			return fmt.Errorf("%w: %w", ErrNonRetryable, err)
		}
		executorAttemptsTotal.WithLabelValues("retry").Inc()
		e.discard()

		if attempt < e.cfg.MaxAttempts && e.cfg.RetryBackoff > 0 {
			pause := e.cfg.RetryBackoff + time.Duration(rand.Int63n(int64(e.cfg.RetryBackoff)/2+1))
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrRetriesExhausted, errors.Join(lastErr, ctx.Err()))
			}
		}
	}
	executorExhaustedTotal.Inc()
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, e.cfg.MaxAttempts, lastErr)
}

func (e *Executor) attempt(ctx context.Context, fn func(context.Context, Conn) error) error {
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	if e.conn == nil {
		conn, err := e.connector.Connect(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		e.conn = conn
	}
	return fn(ctx, e.conn)
}

// discard drops the current connection so the next attempt reconnects.
func (e *Executor) discard() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		log.WithFields(log.Fields{"err": err}).Debug("closing discarded connection")
	}
	e.conn = nil
}
