package card

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places price_history keeps.
const PriceScale = 4

// Price is one observation of a card's market price. The (CardUUID, Date,
// Source) triple is meant to be unique but the store does not enforce it.
type Price struct {
	CardUUID string
	Date     string
	Source   string
	USD      *decimal.Decimal
}

func NewPrice(cardUUID, date, source string, usd *decimal.Decimal) (Price, error) {
	cardUUID = strings.TrimSpace(cardUUID)
	date = strings.TrimSpace(date)
	source = strings.TrimSpace(source)
	if cardUUID == "" || date == "" || source == "" {
		return Price{}, ErrMissingPriceKey
	}
	if usd != nil && !usd.IsPositive() {
		return Price{}, ErrNonPositivePrice
	}
	if usd != nil && !usd.Equal(usd.Truncate(PriceScale)) {
		return Price{}, ErrPriceTooPrecise
	}
	return Price{CardUUID: cardUUID, Date: date, Source: source, USD: usd}, nil
}
