package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Card struct {
	UUID       string  `gorm:"column:uuid;type:text;primaryKey"`
	Name       string  `gorm:"type:text;not null"`
	SetCode    string  `gorm:"type:text"`
	SetName    string  `gorm:"type:text"`
	Rarity     string  `gorm:"type:text"`
	TypeLine   string  `gorm:"type:text"`
	ManaCost   string  `gorm:"type:text"`
	CMC        float64 `gorm:"column:cmc"`
	OracleText string  `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Card) TableName() string {
	return "cards"
}

// PriceHistory has no unique constraint on (card_uuid, date, source) and no
// foreign key to cards; both are checked after the fact.
type PriceHistory struct {
	ID       int64            `gorm:"primaryKey"`
	CardUUID string           `gorm:"column:card_uuid;type:text;index"`
	Date     string           `gorm:"type:text"`
	Source   string           `gorm:"type:text"`
	PriceUSD *decimal.Decimal `gorm:"column:price_usd;type:numeric(14,4)"`
}

func (PriceHistory) TableName() string {
	return "price_history"
}

type CollectionItem struct {
	ID            int64            `gorm:"primaryKey"`
	CardUUID      string           `gorm:"column:card_uuid;type:text;index;not null"`
	CardName      string           `gorm:"type:text;not null"`
	Quantity      int              `gorm:"not null;default:1"`
	Condition     string           `gorm:"type:text;not null"`
	PurchasePrice *decimal.Decimal `gorm:"type:numeric(12,2)"`
	ImportJobID   string           `gorm:"type:text;index"`
	CreatedAt     time.Time
}

func (CollectionItem) TableName() string {
	return "collection_items"
}
