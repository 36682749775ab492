package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id               VARCHAR(36)  NOT NULL PRIMARY KEY,
		role             VARCHAR(16)  NOT NULL,
		name             VARCHAR(255) NOT NULL,
		shipping_address VARCHAR(512) NULL,
		apiary_name      VARCHAR(255) NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id          VARCHAR(36)    NOT NULL PRIMARY KEY,
		producer_id VARCHAR(36)    NOT NULL,
		group_id    VARCHAR(36)    NOT NULL,
		name        VARCHAR(255)   NOT NULL,
		price       DECIMAL(20, 4) NOT NULL,
		quantity    DECIMAL(20, 4) NOT NULL,
		version     BIGINT         NOT NULL DEFAULT 0,
		created_at  DATETIME(6)    NOT NULL,
		updated_at  DATETIME(6)    NOT NULL,
		INDEX idx_catalog_items_group (group_id),
		INDEX idx_catalog_items_producer (producer_id),
		INDEX idx_catalog_items_price (price)
	)`,
	`CREATE TABLE IF NOT EXISTS cart_entries (
		id         VARCHAR(36)    NOT NULL PRIMARY KEY,
		buyer_id   VARCHAR(36)    NOT NULL,
		item_id    VARCHAR(36)    NOT NULL,
		quantity   DECIMAL(20, 4) NOT NULL,
		unit_price DECIMAL(20, 4) NOT NULL,
		added_at   DATETIME(6)    NOT NULL,
		UNIQUE KEY uq_cart_entries_buyer_item (buyer_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         VARCHAR(36)    NOT NULL PRIMARY KEY,
		buyer_id   VARCHAR(36)    NOT NULL,
		status     VARCHAR(16)    NOT NULL,
		total      DECIMAL(20, 4) NOT NULL,
		created_at DATETIME(6)    NOT NULL,
		updated_at DATETIME(6)    NOT NULL,
		INDEX idx_orders_buyer (buyer_id),
		INDEX idx_orders_status (status),
		INDEX idx_orders_created (created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id   VARCHAR(36)    NOT NULL,
		line_no    INT            NOT NULL,
		item_id    VARCHAR(36)    NOT NULL,
		quantity   DECIMAL(20, 4) NOT NULL,
		unit_price DECIMAL(20, 4) NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id               TEXT NOT NULL PRIMARY KEY,
		role             TEXT NOT NULL,
		name             TEXT NOT NULL,
		shipping_address TEXT NULL,
		apiary_name      TEXT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id          TEXT     NOT NULL PRIMARY KEY,
		producer_id TEXT     NOT NULL,
		group_id    TEXT     NOT NULL,
		name        TEXT     NOT NULL,
		price       NUMERIC  NOT NULL,
		quantity    NUMERIC  NOT NULL,
		version     INTEGER  NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_items_group ON catalog_items (group_id)`,
	`CREATE TABLE IF NOT EXISTS cart_entries (
		id         TEXT     NOT NULL PRIMARY KEY,
		buyer_id   TEXT     NOT NULL,
		item_id    TEXT     NOT NULL,
		quantity   NUMERIC  NOT NULL,
		unit_price NUMERIC  NOT NULL,
		added_at   DATETIME NOT NULL,
		UNIQUE (buyer_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id         TEXT     NOT NULL PRIMARY KEY,
		buyer_id   TEXT     NOT NULL,
		status     TEXT     NOT NULL,
		total      NUMERIC  NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id   TEXT    NOT NULL,
		line_no    INTEGER NOT NULL,
		item_id    TEXT    NOT NULL,
		quantity   NUMERIC NOT NULL,
		unit_price NUMERIC NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
}

// Migrate creates the tables used by SQLAdapter if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var stmts []string
	switch dialect {
	case DialectMySQL:
		stmts = mysqlSchema
	case DialectSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
