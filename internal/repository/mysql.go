package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// SQLRepository is the durable store: tickets, contestants, the vote ledger
// and the voting flag. Writes go to the master; read-only snapshots go to the
// replica when one is configured.
type SQLRepository struct {
	masterDB  *sql.DB
	replicaDB *sql.DB
	dialect   dialect
}

// NewSQLRepository opens the master (and optional replica) pools described by
// cfg and verifies the master connection.
func NewSQLRepository(cfg config.DatabaseConfig) (*SQLRepository, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	masterDB, err := openPool(cfg.Driver, cfg.Master, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master database: %w", err)
	}

	if err = masterDB.Ping(); err != nil {
		masterDB.Close()
		return nil, fmt.Errorf("master database ping failed: %w", err)
	}

	replicaDB := masterDB
	if cfg.Replica != "" && cfg.Driver == config.DriverMySQL {
		db, err := openPool(cfg.Driver, cfg.Replica, cfg)
		if err != nil {
			masterDB.Close()
			return nil, fmt.Errorf("failed to connect to replica database: %w", err)
		}

		if err = db.Ping(); err != nil {
			logger.Logger.Warn().Err(err).Msg("replica ping failed, reading from master")
			db.Close()
		} else {
			replicaDB = db
		}
	}

	return &SQLRepository{
		masterDB:  masterDB,
		replicaDB: replicaDB,
		dialect:   d,
	}, nil
}

// NewSQLRepositoryFromDB wraps an already opened pool. Used by tools and tests.
func NewSQLRepositoryFromDB(db *sql.DB, driverName string) (*SQLRepository, error) {
	d, err := dialectFor(driverName)
	if err != nil {
		return nil, err
	}
	if driverName == config.DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	return &SQLRepository{masterDB: db, replicaDB: db, dialect: d}, nil
}

func openPool(driverName, dsn string, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if driverName == config.DriverSQLite {
		// a single writer connection keeps SQLite transactions serial
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return db, nil
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Migrate creates the schema. Safe to call repeatedly.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the master is reachable.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.masterDB.PingContext(ctx)
}

// Driver returns the dialect name.
func (r *SQLRepository) Driver() string {
	return r.dialect.name
}

// Close closes the connection pools.
func (r *SQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.replicaDB != nil && r.replicaDB != r.masterDB {
		r.replicaDB.Close()
	}
}

// writeTx runs fn in a read-write transaction on the master and commits when
// fn returns nil.
func (r *SQLRepository) writeTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readTx runs fn in a read-only snapshot transaction on the replica.
func (r *SQLRepository) readTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.replicaDB.BeginTx(ctx, r.dialect.snapshotOpts)
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
