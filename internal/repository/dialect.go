package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/mattn/go-sqlite3"
)

// MySQL server error numbers
const (
	mysqlErrDupEntry         = 1062
	mysqlErrLockWaitTimeout  = 1205
	mysqlErrLockDeadlock     = 1213
	mysqlErrTooManyConns     = 1040
	mysqlErrServerShutdown   = 1053
	mysqlErrQueryInterrupted = 1317
)

// dialect carries the few statements that differ between MySQL and the
// embedded SQLite mode. Every query of the vote path is shared.
type dialect struct {
	name string

	schema []string

	// appended to the ticket lookup of the vote transaction
	ticketLock string

	upsertSetting string

	snapshotOpts *sql.TxOptions
}

var mysqlDialect = dialect{
	name: config.DriverMySQL,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS contestants (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description VARCHAR(1024) NOT NULL DEFAULT '',
			image_ref VARCHAR(512) NOT NULL DEFAULT '',
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME(6) NOT NULL,
			KEY idx_contestants_active_name (is_active, name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			ticket_code VARCHAR(20) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
			is_used TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			used_at DATETIME(6) NULL,
			UNIQUE KEY uq_tickets_code (ticket_code),
			CONSTRAINT chk_tickets_code_len CHECK (CHAR_LENGTH(ticket_code) BETWEEN 4 AND 20),
			CONSTRAINT chk_tickets_used_at CHECK ((is_used = 1) = (used_at IS NOT NULL))
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS votes (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			contestant_id BIGINT NOT NULL,
			ticket_id BIGINT NOT NULL,
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			user_agent VARCHAR(512) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_votes_ticket (ticket_id),
			KEY idx_votes_contestant (contestant_id),
			CONSTRAINT fk_votes_contestant FOREIGN KEY (contestant_id) REFERENCES contestants (id),
			CONSTRAINT fk_votes_ticket FOREIGN KEY (ticket_id) REFERENCES tickets (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			name VARCHAR(64) NOT NULL PRIMARY KEY,
			value VARCHAR(255) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`INSERT IGNORE INTO app_settings (name, value, updated_at)
			VALUES ('voting_open', 'true', UTC_TIMESTAMP(6))`,
	},
	ticketLock: " FOR UPDATE",
	upsertSetting: `INSERT INTO app_settings (name, value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
	snapshotOpts: &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
}

// sqliteDialect relies on BEGIN IMMEDIATE (_txlock=immediate) and a single
// connection to serialise writers, so no row lock clause exists.
var sqliteDialect = dialect{
	name: config.DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS contestants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			image_ref TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contestants_active_name ON contestants (is_active, name)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_code TEXT NOT NULL UNIQUE CHECK (length(ticket_code) BETWEEN 4 AND 20),
			is_used BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			used_at TIMESTAMP NULL,
			CHECK ((is_used = 1) = (used_at IS NOT NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contestant_id INTEGER NOT NULL REFERENCES contestants (id),
			ticket_id INTEGER NOT NULL UNIQUE REFERENCES tickets (id),
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_contestant ON votes (contestant_id)`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			name TEXT NOT NULL PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`INSERT OR IGNORE INTO app_settings (name, value, updated_at)
			VALUES ('voting_open', 'true', CURRENT_TIMESTAMP)`,
	},
	ticketLock: "",
	upsertSetting: `INSERT INTO app_settings (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	snapshotOpts: nil,
}

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case config.DriverMySQL:
		return mysqlDialect, nil
	case config.DriverSQLite:
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q", driverName)
	}
}

// isDuplicateKey reports a unique or primary key violation from either driver.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDupEntry
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

// IsTransient reports failures that a caller may retry: lost connections,
// lock timeouts, deadlocks and busy databases.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrLockDeadlock, mysqlErrTooManyConns,
			mysqlErrServerShutdown, mysqlErrQueryInterrupted:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
