// Package dbtest opens isolated in-memory sqlite databases carrying the payment schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE payment_intents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		shipping_address_id TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT 'card',
		status TEXT NOT NULL DEFAULT 'pending',
		idempotency_key TEXT NOT NULL UNIQUE,
		idempotency_expires_at DATETIME NOT NULL,
		currency TEXT NOT NULL,
		item_total_cents INTEGER NOT NULL,
		vat_total_cents INTEGER NOT NULL,
		shipping_total_cents INTEGER NOT NULL,
		discount_total_cents INTEGER NOT NULL,
		base_total_cents INTEGER NOT NULL,
		commission_rate_bps INTEGER NOT NULL,
		commission_amount_cents INTEGER NOT NULL,
		paid_total_cents INTEGER NOT NULL,
		installment_number INTEGER NOT NULL,
		cart_snapshot TEXT NOT NULL,
		pricing_snapshot TEXT NOT NULL,
		provider TEXT NOT NULL,
		merchant_ref TEXT NOT NULL,
		gateway_trx_code TEXT,
		gateway_status TEXT,
		threed_payload_encrypted TEXT,
		threed_payload_key_version INTEGER,
		return_url TEXT,
		fail_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_transactions (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		request_payload TEXT,
		response_payload TEXT,
		success BOOLEAN NOT NULL,
		error_code TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_manual_review_queue (
		id TEXT PRIMARY KEY,
		intent_id TEXT,
		reason TEXT NOT NULL,
		details TEXT NOT NULL,
		dedupe_key TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME,
		resolved_by TEXT,
		resolution_note TEXT
	)`,
	`CREATE TABLE inventory_items (
		product_id TEXT PRIMARY KEY,
		available_qty INTEGER NOT NULL DEFAULT 0,
		reserved_qty INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
	`CREATE TABLE stock_reservations (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		qty INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		released_at DATETIME
	)`,
}

// Open returns a fresh sqlite database with the payment tables created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}
