package repository_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/db/migrations"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/repository"
)

func setupBulkRepository(t *testing.T) (*repository.CardBulkRepository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	if err := migrations.Up(ctx, sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := sqlDB.ExecContext(ctx, `
    DELETE FROM collection_items;
    DELETE FROM price_history;
    DELETE FROM cards;
    DELETE FROM stg_prices;
    DELETE FROM stg_cards;
    `); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return repository.NewCardBulkRepository(pool), pool
}

func TestCardBulkRepositoryUpsertIsIdempotentIntegration(t *testing.T) {
	repo, pool := setupBulkRepository(t)
	ctx := context.Background()

	cards := []card.Card{
		{UUID: "u-1", Name: "Lightning Bolt", SetCode: "LEA", CMC: 1},
		{UUID: "u-2", Name: "Counterspell", SetCode: "LEA", CMC: 2},
	}

	first, err := repo.UpsertCards(ctx, "job-a", cards)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Imported != 2 || first.Updated != 0 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	cards[1].Name = "Counterspell (Alpha)"
	second, err := repo.UpsertCards(ctx, "job-b", cards)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Imported != 0 || second.Updated != 2 {
		t.Fatalf("unexpected second result: %+v", second)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM cards").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 cards, got %d", count)
	}

	var name string
	if err := pool.QueryRow(ctx, "SELECT name FROM cards WHERE uuid = 'u-2'").Scan(&name); err != nil {
		t.Fatalf("name: %v", err)
	}
	if name != "Counterspell (Alpha)" {
		t.Fatalf("expected updated name, got %q", name)
	}

	var staged int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM stg_cards").Scan(&staged); err != nil {
		t.Fatalf("staged: %v", err)
	}
	if staged != 0 {
		t.Fatalf("expected staging to be empty, got %d", staged)
	}
}

func TestCardBulkRepositoryInsertPricesSkipsIdenticalRowsIntegration(t *testing.T) {
	repo, pool := setupBulkRepository(t)
	ctx := context.Background()

	usd := decimal.RequireFromString("1.25")
	prices := []card.Price{
		{CardUUID: "u-1", Date: "2024-01-01", Source: "tcgplayer", USD: &usd},
		{CardUUID: "u-1", Date: "2024-01-02", Source: "tcgplayer"},
	}

	first, err := repo.InsertPrices(ctx, "job-a", prices)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if first.Imported != 2 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := repo.InsertPrices(ctx, "job-b", prices)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if second.Imported != 0 || second.Skipped != 2 {
		t.Fatalf("unexpected second result: %+v", second)
	}

	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM price_history").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 price rows, got %d", count)
	}
}
