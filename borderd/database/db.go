// Package database connects to the sqlite file that holds notification
// channel configuration and residency sightings.
//
// To modify the schema, add a numbered pair of up/down files under
// migrations/. Migrations run automatically when a store is opened.
package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/xerrors"

	"github.com/borderwatch/borderwatch/borderd/database/migrations"
)

// Store contains all queryable database functions.
type Store interface {
	querier

	Ping(ctx context.Context) (time.Duration, error)
	InTx(func(Store) error, *sql.TxOptions) error
	Close() error
}

type querier interface {
	InsertNotificationChannel(ctx context.Context, arg InsertNotificationChannelParams) (NotificationChannel, error)
	UpdateNotificationChannel(ctx context.Context, arg UpdateNotificationChannelParams) (NotificationChannel, error)
	GetNotificationChannels(ctx context.Context, arg GetNotificationChannelsParams) ([]NotificationChannel, error)
	DeleteNotificationChannels(ctx context.Context, arg DeleteNotificationChannelsParams) (int64, error)

	UpsertResidencySighting(ctx context.Context, arg UpsertResidencySightingParams) error
	GetResidencySightingsByPlayer(ctx context.Context, player string) ([]ResidencySighting, error)
}

// DBTX represents a database connection or transaction.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Open opens (creating if needed) the sqlite database at path and applies
// all pending migrations.
func Open(ctx context.Context, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New("database path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	sdb.SetMaxOpenConns(1)
	if err := sdb.PingContext(ctx); err != nil {
		_ = sdb.Close()
		return nil, xerrors.Errorf("ping sqlite: %w", err)
	}
	if err := migrations.Up(sdb); err != nil {
		_ = sdb.Close()
		return nil, xerrors.Errorf("migrate: %w", err)
	}
	return New(sdb), nil
}

// New creates a new database store using a SQL database connection that
// has already been migrated.
func New(sdb *sql.DB) Store {
	dbx := sqlx.NewDb(sdb, "sqlite")
	return &sqlQuerier{
		sdb: dbx,
		db:  dbx,
	}
}

type sqlQuerier struct {
	sdb *sqlx.DB
	db  DBTX
}

// Ping returns the time it takes to ping the database.
func (q *sqlQuerier) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := q.sdb.PingContext(ctx)
	return time.Since(start), err
}

func (q *sqlQuerier) Close() error {
	if _, inTx := q.db.(*sqlx.Tx); inTx {
		return xerrors.New("cannot close a store inside a transaction")
	}
	return q.sdb.Close()
}

// InTx performs database operations inside a transaction. Nested calls reuse
// the outer transaction.
func (q *sqlQuerier) InTx(function func(Store) error, txOpts *sql.TxOptions) error {
	if _, inTx := q.db.(*sqlx.Tx); inTx {
		return function(q)
	}

	transaction, err := q.sdb.BeginTxx(context.Background(), txOpts)
	if err != nil {
		return xerrors.Errorf("begin transaction: %w", err)
	}
	defer func() {
		rerr := transaction.Rollback()
		if rerr == nil || xerrors.Is(rerr, sql.ErrTxDone) {
			// no need to do anything, tx committed successfully
			return
		}
		// couldn't roll back for some reason, extend returned error
		err = xerrors.Errorf("defer (%s): %w", rerr.Error(), err)
	}()
	err = function(&sqlQuerier{sdb: q.sdb, db: transaction})
	if err != nil {
		return xerrors.Errorf("execute transaction: %w", err)
	}
	err = transaction.Commit()
	if err != nil {
		return xerrors.Errorf("commit transaction: %w", err)
	}
	return nil
}
