package card

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ConditionUnspecified is stored when an uploaded row carries no condition.
const ConditionUnspecified = "unspecified"

// CollectionItem is a row committed by a CSV import. PurchasePrice is nil when
// the upload had no price for the row.
type CollectionItem struct {
	CardUUID      string
	CardName      string
	Quantity      int
	Condition     string
	PurchasePrice *decimal.Decimal
}

func NewCollectionItem(cardUUID, cardName string, quantity int, condition string, price *decimal.Decimal) (CollectionItem, error) {
	cardUUID = strings.TrimSpace(cardUUID)
	cardName = strings.TrimSpace(cardName)
	if cardUUID == "" && cardName == "" {
		return CollectionItem{}, ErrMissingName
	}
	if quantity <= 0 {
		return CollectionItem{}, ErrInvalidQuantity
	}
	if price != nil && price.IsNegative() {
		return CollectionItem{}, ErrNegativePrice
	}
	condition = strings.TrimSpace(condition)
	if condition == "" {
		condition = ConditionUnspecified
	}
	return CollectionItem{
		CardUUID:      cardUUID,
		CardName:      cardName,
		Quantity:      quantity,
		Condition:     condition,
		PurchasePrice: price,
	}, nil
}
