package infra

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("open migrations: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}

	up, _, err := src.ReadUp(first)
	if err != nil {
		t.Fatalf("read up: %v", err)
	}
	defer up.Close()
	body, err := io.ReadAll(up)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	// Constraint names are matched by the Postgres store's error mapping.
	for _, name := range []string{"wallets_balance_non_negative", "wallets_address_key", "wallets_user_currency_key", "transactions_wallet_tx_hash_key"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("schema is missing %s", name)
		}
	}

	down, _, err := src.ReadDown(first)
	if err != nil {
		t.Fatalf("read down: %v", err)
	}
	down.Close()
}

func TestConstructorsRejectEmptyURL(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), "", "test"); err == nil {
		t.Fatalf("expected error for empty database url")
	}
	if _, err := NewRedisClient(context.Background(), "", "test"); err == nil {
		t.Fatalf("expected error for empty redis url")
	}
}
