package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// IntegrityRepository runs the read-only audit queries behind validation.
// The SQL sticks to what both Postgres and SQLite accept.
type IntegrityRepository struct {
	db *gorm.DB
}

func NewIntegrityRepository(db *gorm.DB) *IntegrityRepository {
	return &IntegrityRepository{db: db}
}

// priceSource returns the FROM clause for price checks. A positive
// sampleSize bounds every price check to the first sampleSize rows by id.
func priceSource(sampleSize int) (string, []any) {
	if sampleSize > 0 {
		return "(SELECT * FROM price_history ORDER BY id LIMIT ?) p", []any{sampleSize}
	}
	return "price_history p", nil
}

const invalidCardWhere = `uuid IS NULL OR TRIM(uuid) = '' OR name IS NULL OR TRIM(name) = ''`

const invalidPriceWhere = `p.card_uuid IS NULL OR TRIM(p.card_uuid) = ''
	OR p.date IS NULL OR TRIM(p.date) = ''
	OR p.source IS NULL OR TRIM(p.source) = ''
	OR (p.price_usd IS NOT NULL AND p.price_usd <= 0)`

const priceColumns = `p.id AS id,
	COALESCE(p.card_uuid, '') AS card_uuid,
	COALESCE(p.date, '') AS date,
	COALESCE(p.source, '') AS source,
	COALESCE(CAST(p.price_usd AS TEXT), '') AS price_usd`

func (r *IntegrityRepository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *IntegrityRepository) CountCards(ctx context.Context) (int64, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM cards`)
	if err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

// InvalidCards returns how many cards lack a uuid or name, and up to limit of them.
func (r *IntegrityRepository) InvalidCards(ctx context.Context, limit int) (int64, []domain.CardRow, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM cards WHERE `+invalidCardWhere)
	if err != nil {
		return 0, nil, fmt.Errorf("count invalid cards: %w", err)
	}
	if n == 0 || limit <= 0 {
		return n, nil, nil
	}

	var rows []domain.CardRow
	if err := r.db.WithContext(ctx).Raw(`
		SELECT COALESCE(uuid, '') AS uuid, COALESCE(name, '') AS name, COALESCE(set_code, '') AS set_code
		FROM cards
		WHERE `+invalidCardWhere+`
		ORDER BY uuid
		LIMIT ?`, limit).Scan(&rows).Error; err != nil {
		return 0, nil, fmt.Errorf("list invalid cards: %w", err)
	}
	return n, rows, nil
}

func (r *IntegrityRepository) CountPrices(ctx context.Context, sampleSize int) (int64, error) {
	src, args := priceSource(sampleSize)
	n, err := r.count(ctx, `SELECT COUNT(*) FROM `+src, args...)
	if err != nil {
		return 0, fmt.Errorf("count prices: %w", err)
	}
	return n, nil
}

// InvalidPrices returns price rows missing a key column or carrying a
// non-positive price.
func (r *IntegrityRepository) InvalidPrices(ctx context.Context, sampleSize, limit int) (int64, []domain.PriceRow, error) {
	src, args := priceSource(sampleSize)
	n, err := r.count(ctx, `SELECT COUNT(*) FROM `+src+` WHERE `+invalidPriceWhere, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("count invalid prices: %w", err)
	}
	if n == 0 || limit <= 0 {
		return n, nil, nil
	}

	var rows []domain.PriceRow
	if err := r.db.WithContext(ctx).Raw(
		`SELECT `+priceColumns+` FROM `+src+` WHERE `+invalidPriceWhere+` ORDER BY p.id LIMIT ?`,
		append(args, limit)...,
	).Scan(&rows).Error; err != nil {
		return 0, nil, fmt.Errorf("list invalid prices: %w", err)
	}
	return n, rows, nil
}

// OrphanPrices returns price rows whose card_uuid matches no card. Rows with
// an empty card_uuid are a schema problem and are left out here.
func (r *IntegrityRepository) OrphanPrices(ctx context.Context, sampleSize, limit int) (int64, []domain.PriceRow, error) {
	src, args := priceSource(sampleSize)
	from := src + `
		LEFT JOIN cards c ON c.uuid = p.card_uuid
		WHERE c.uuid IS NULL AND p.card_uuid IS NOT NULL AND p.card_uuid <> ''`

	n, err := r.count(ctx, `SELECT COUNT(*) FROM `+from, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("count orphan prices: %w", err)
	}
	if n == 0 || limit <= 0 {
		return n, nil, nil
	}

	var rows []domain.PriceRow
	if err := r.db.WithContext(ctx).Raw(
		`SELECT `+priceColumns+` FROM `+from+` ORDER BY p.id LIMIT ?`,
		append(args, limit)...,
	).Scan(&rows).Error; err != nil {
		return 0, nil, fmt.Errorf("list orphan prices: %w", err)
	}
	return n, rows, nil
}

// DuplicatePrices groups price rows by (card_uuid, date, source). It returns
// the number of groups with more than one row, the number of rows in those
// groups, and up to limit groups, largest first.
func (r *IntegrityRepository) DuplicatePrices(ctx context.Context, sampleSize, limit int) (int64, int64, []domain.DuplicateGroup, error) {
	src, args := priceSource(sampleSize)
	grouped := `SELECT COALESCE(p.card_uuid, '') AS card_uuid,
			COALESCE(p.date, '') AS date,
			COALESCE(p.source, '') AS source,
			COUNT(*) AS row_count
		FROM ` + src + `
		GROUP BY p.card_uuid, p.date, p.source
		HAVING COUNT(*) > 1`

	var totals struct {
		Groups int64 `gorm:"column:group_count"`
		Rows   int64 `gorm:"column:row_total"`
	}
	if err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS group_count, CAST(COALESCE(SUM(d.row_count), 0) AS BIGINT) AS row_total FROM (`+grouped+`) d`,
		args...,
	).Scan(&totals).Error; err != nil {
		return 0, 0, nil, fmt.Errorf("count duplicate prices: %w", err)
	}
	if totals.Groups == 0 || limit <= 0 {
		return totals.Groups, totals.Rows, nil, nil
	}

	var groups []domain.DuplicateGroup
	if err := r.db.WithContext(ctx).Raw(
		grouped+` ORDER BY row_count DESC, card_uuid, date, source LIMIT ?`,
		append(args, limit)...,
	).Scan(&groups).Error; err != nil {
		return 0, 0, nil, fmt.Errorf("list duplicate prices: %w", err)
	}
	return totals.Groups, totals.Rows, groups, nil
}

// PriceDates returns every distinct date value with its row count. Format
// checks happen in the caller so the query stays portable.
func (r *IntegrityRepository) PriceDates(ctx context.Context, sampleSize int) ([]domain.DateCount, error) {
	src, args := priceSource(sampleSize)

	var dates []domain.DateCount
	if err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(p.date, '') AS date, COUNT(*) AS row_count FROM `+src+` GROUP BY p.date ORDER BY date`,
		args...,
	).Scan(&dates).Error; err != nil {
		return nil, fmt.Errorf("group price dates: %w", err)
	}
	return dates, nil
}

func (r *IntegrityRepository) CardsWithoutSet(ctx context.Context, limit int) (int64, []domain.CardRow, error) {
	const where = `set_code IS NULL OR TRIM(set_code) = ''`

	n, err := r.count(ctx, `SELECT COUNT(*) FROM cards WHERE `+where)
	if err != nil {
		return 0, nil, fmt.Errorf("count cards without set: %w", err)
	}
	if n == 0 || limit <= 0 {
		return n, nil, nil
	}

	var rows []domain.CardRow
	if err := r.db.WithContext(ctx).Raw(`
		SELECT COALESCE(uuid, '') AS uuid, COALESCE(name, '') AS name, '' AS set_code
		FROM cards
		WHERE `+where+`
		ORDER BY uuid
		LIMIT ?`, limit).Scan(&rows).Error; err != nil {
		return 0, nil, fmt.Errorf("list cards without set: %w", err)
	}
	return n, rows, nil
}

// SetConflicts returns set codes that map to more than one set name.
func (r *IntegrityRepository) SetConflicts(ctx context.Context) ([]domain.SetConflict, error) {
	var conflicts []domain.SetConflict
	if err := r.db.WithContext(ctx).Raw(`
		SELECT set_code, COUNT(DISTINCT set_name) AS name_count, COUNT(*) AS card_count
		FROM cards
		WHERE set_code IS NOT NULL AND TRIM(set_code) <> ''
		GROUP BY set_code
		HAVING COUNT(DISTINCT set_name) > 1
		ORDER BY set_code`).Scan(&conflicts).Error; err != nil {
		return nil, fmt.Errorf("find set conflicts: %w", err)
	}
	return conflicts, nil
}
