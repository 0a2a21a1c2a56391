// Package testutil opens throwaway sqlite databases carrying the store schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Schema mirrors internal/migration/sql in sqlite dialect.
var Schema = []string{
	`CREATE TABLE customers (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL,
		is_guest BOOLEAN NOT NULL DEFAULT FALSE,
		balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
		referred_by BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_customers_email ON customers (email)`,
	`CREATE TABLE affiliates (
		id BIGINT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		code TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_affiliates_code ON affiliates (code)`,
	`CREATE TABLE ledger_entries (
		id BIGINT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_ledger_entries_source ON ledger_entries (source_type, source_id)`,
	`CREATE TABLE plans (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		retail_usd_cents BIGINT NOT NULL,
		provider_price_units BIGINT NOT NULL,
		data_bytes BIGINT NOT NULL DEFAULT 0,
		duration_days INT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE orders (
		id BIGINT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		plan_code TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		display_currency TEXT NOT NULL,
		display_amount_cents BIGINT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_ref TEXT,
		provider_order_no TEXT,
		refunded_at TIMESTAMP,
		refund_amount_cents BIGINT,
		refund_method TEXT,
		receipt_sent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_orders_payment_ref ON orders (payment_ref)`,
	`CREATE TABLE profiles (
		id BIGINT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		external_tran_id TEXT NOT NULL,
		external_resource_id TEXT NOT NULL,
		activation_code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		capacity_bytes BIGINT NOT NULL DEFAULT 0,
		used_bytes BIGINT NOT NULL DEFAULT 0,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_profiles_order_tran ON profiles (order_id, external_tran_id)`,
	`CREATE TABLE commissions (
		id BIGINT PRIMARY KEY,
		affiliate_id BIGINT NOT NULL,
		order_id BIGINT NOT NULL,
		order_type TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_commissions_order ON commissions (order_id, order_type)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		provider_payment_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		order_id BIGINT,
		payload TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event_id ON payment_events (provider, provider_event_id)`,
	`CREATE TABLE settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		request_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
}

// OpenDB returns an isolated in-memory database with the full schema applied.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:simstore_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps the shared-cache database alive and
	// serializes writers the way sqlite expects.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for test ids.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// Count runs a COUNT query and fails the test on error.
func Count(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	return count
}
