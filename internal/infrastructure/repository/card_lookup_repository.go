package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/db/models"
)

// CardLookupRepository resolves uploaded rows to stored cards.
type CardLookupRepository struct {
	db *gorm.DB
}

func NewCardLookupRepository(db *gorm.DB) *CardLookupRepository {
	return &CardLookupRepository{db: db}
}

// Resolve returns the cards matching uuids, keyed by uuid, and the cards
// matching names, keyed by lower-cased name. A name with several printings
// resolves to the first by set code then uuid.
func (r *CardLookupRepository) Resolve(ctx context.Context, uuids, names []string) (map[string]card.Card, map[string]card.Card, error) {
	byUUID := make(map[string]card.Card, len(uuids))
	byName := make(map[string]card.Card, len(names))

	if len(uuids) > 0 {
		var rows []models.Card
		if err := r.db.WithContext(ctx).
			Where("uuid IN ?", uuids).
			Find(&rows).Error; err != nil {
			return nil, nil, fmt.Errorf("lookup cards by uuid: %w", err)
		}
		for _, row := range rows {
			byUUID[row.UUID] = toDomainCard(row)
		}
	}

	if len(names) > 0 {
		lowered := make([]string, 0, len(names))
		for _, name := range names {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(name)))
		}

		var rows []models.Card
		if err := r.db.WithContext(ctx).
			Where("LOWER(name) IN ?", lowered).
			Order("set_code, uuid").
			Find(&rows).Error; err != nil {
			return nil, nil, fmt.Errorf("lookup cards by name: %w", err)
		}
		for _, row := range rows {
			key := strings.ToLower(row.Name)
			if _, ok := byName[key]; !ok {
				byName[key] = toDomainCard(row)
			}
		}
	}

	return byUUID, byName, nil
}

func toDomainCard(row models.Card) card.Card {
	return card.Card{
		UUID:       row.UUID,
		Name:       row.Name,
		SetCode:    row.SetCode,
		SetName:    row.SetName,
		Rarity:     row.Rarity,
		TypeLine:   row.TypeLine,
		ManaCost:   row.ManaCost,
		CMC:        row.CMC,
		OracleText: row.OracleText,
	}
}
