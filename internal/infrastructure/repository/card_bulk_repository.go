package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// CardBulkRepository writes feed batches through unlogged staging tables.
// Each call is one transaction: a failing batch leaves nothing behind.
type CardBulkRepository struct {
	pool *pgxpool.Pool
}

func NewCardBulkRepository(pool *pgxpool.Pool) *CardBulkRepository {
	return &CardBulkRepository{pool: pool}
}

// UpsertCards replaces every field of an existing card with the incoming
// values. Within a batch the last row for a uuid wins.
func (r *CardBulkRepository) UpsertCards(ctx context.Context, jobID string, cards []card.Card) (domain.BatchResult, error) {
	if len(cards) == 0 {
		return domain.BatchResult{}, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(cards))
	for i, c := range cards {
		rows = append(rows, []any{
			jobID, int64(i), c.UUID, c.Name,
			c.SetCode, c.SetName, c.Rarity, c.TypeLine, c.ManaCost, c.CMC, c.OracleText,
		})
	}

	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"stg_cards"},
		[]string{"job_id", "row_index", "uuid", "name", "set_code", "set_name", "rarity", "type_line", "mana_cost", "cmc", "oracle_text"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return domain.BatchResult{}, fmt.Errorf("copy cards staging: %w", err)
	}

	result, err := upsertStagedCards(ctx, tx, jobID)
	if err != nil {
		return domain.BatchResult{}, err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM stg_cards WHERE job_id = $1", jobID); err != nil {
		return domain.BatchResult{}, fmt.Errorf("cleanup stg_cards: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BatchResult{}, fmt.Errorf("commit card batch: %w", err)
	}
	return result, nil
}

func upsertStagedCards(ctx context.Context, tx pgx.Tx, jobID string) (domain.BatchResult, error) {
	rows, err := tx.Query(ctx, `
WITH staged AS (
    SELECT DISTINCT ON (uuid)
      uuid, name, set_code, set_name, rarity, type_line, mana_cost, cmc, oracle_text
    FROM stg_cards
    WHERE job_id = $1
    ORDER BY uuid, row_index DESC
), upserted AS (
    INSERT INTO cards (uuid, name, set_code, set_name, rarity, type_line, mana_cost, cmc, oracle_text, created_at, updated_at)
    SELECT uuid, name, set_code, set_name, rarity, type_line, mana_cost, cmc, oracle_text, NOW(), NOW()
    FROM staged
    ON CONFLICT (uuid) DO UPDATE
      SET name = EXCLUDED.name,
          set_code = EXCLUDED.set_code,
          set_name = EXCLUDED.set_name,
          rarity = EXCLUDED.rarity,
          type_line = EXCLUDED.type_line,
          mana_cost = EXCLUDED.mana_cost,
          cmc = EXCLUDED.cmc,
          oracle_text = EXCLUDED.oracle_text,
          updated_at = NOW()
    RETURNING (xmax = 0) AS inserted
)
SELECT inserted FROM upserted
`, jobID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("upsert cards: %w", err)
	}
	defer rows.Close()

	imported, updated, err := countInsertedUpdated(rows)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("upsert cards: %w", err)
	}
	return domain.BatchResult{Imported: imported, Updated: updated}, nil
}

// InsertPrices adds observations that are not already stored. Rows whose
// (card_uuid, date, source) already exists are counted as skipped.
func (r *CardBulkRepository) InsertPrices(ctx context.Context, jobID string, prices []card.Price) (domain.BatchResult, error) {
	if len(prices) == 0 {
		return domain.BatchResult{}, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(prices))
	for i, p := range prices {
		var usd *string
		if p.USD != nil {
			s := p.USD.String()
			usd = &s
		}
		rows = append(rows, []any{jobID, int64(i), p.CardUUID, p.Date, p.Source, usd})
	}

	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"stg_prices"},
		[]string{"job_id", "row_index", "card_uuid", "date", "source", "price_usd"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return domain.BatchResult{}, fmt.Errorf("copy prices staging: %w", err)
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO price_history (card_uuid, date, source, price_usd)
SELECT s.card_uuid, s.date, s.source, s.price_usd::numeric
FROM (
    SELECT DISTINCT ON (card_uuid, date, source) card_uuid, date, source, price_usd
    FROM stg_prices
    WHERE job_id = $1
    ORDER BY card_uuid, date, source, row_index DESC
) s
WHERE NOT EXISTS (
    SELECT 1 FROM price_history p
    WHERE p.card_uuid = s.card_uuid AND p.date = s.date AND p.source = s.source
)
`, jobID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("insert prices: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM stg_prices WHERE job_id = $1", jobID); err != nil {
		return domain.BatchResult{}, fmt.Errorf("cleanup stg_prices: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BatchResult{}, fmt.Errorf("commit price batch: %w", err)
	}

	inserted := tag.RowsAffected()
	return domain.BatchResult{Imported: inserted, Skipped: int64(len(prices)) - inserted}, nil
}

// InsertCollectionItems appends CSV rows that were already matched to cards.
func (r *CardBulkRepository) InsertCollectionItems(ctx context.Context, jobID string, items []card.CollectionItem) (domain.BatchResult, error) {
	if len(items) == 0 {
		return domain.BatchResult{}, nil
	}

	rows := make([][]any, 0, len(items))
	for _, item := range items {
		var price *string
		if item.PurchasePrice != nil {
			s := item.PurchasePrice.String()
			price = &s
		}
		rows = append(rows, []any{item.CardUUID, item.CardName, int32(item.Quantity), item.Condition, price, jobID})
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// purchase_price goes through text so numeric parsing stays server side
	if _, err := tx.Exec(ctx, `
CREATE TEMP TABLE IF NOT EXISTS tmp_collection_items (
  card_uuid TEXT, card_name TEXT, quantity INT, condition TEXT, purchase_price TEXT, import_job_id TEXT
) ON COMMIT DELETE ROWS`); err != nil {
		return domain.BatchResult{}, fmt.Errorf("create collection temp table: %w", err)
	}

	copied, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"tmp_collection_items"},
		[]string{"card_uuid", "card_name", "quantity", "condition", "purchase_price", "import_job_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("copy collection items: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO collection_items (card_uuid, card_name, quantity, condition, purchase_price, import_job_id, created_at)
SELECT card_uuid, card_name, quantity, condition, purchase_price::numeric, import_job_id, NOW()
FROM tmp_collection_items
`); err != nil {
		return domain.BatchResult{}, fmt.Errorf("insert collection items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BatchResult{}, fmt.Errorf("commit collection batch: %w", err)
	}
	return domain.BatchResult{Imported: copied}, nil
}

func countInsertedUpdated(rows pgx.Rows) (int64, int64, error) {
	var imported int64
	var updated int64

	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return 0, 0, err
		}
		if inserted {
			imported++
		} else {
			updated++
		}
	}

	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	return imported, updated, nil
}
