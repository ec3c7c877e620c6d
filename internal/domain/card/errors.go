package card

import "errors"

var (
	ErrMissingUUID      = errors.New("missing card uuid")
	ErrMissingName      = errors.New("missing card name")
	ErrMissingPriceKey  = errors.New("price requires card uuid, date and source")
	ErrNonPositivePrice = errors.New("price must be greater than zero")
	ErrNegativePrice    = errors.New("price must not be negative")
	ErrPriceTooPrecise  = errors.New("price has more than 4 decimal places")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrUnresolvedCard   = errors.New("card not found by uuid or name")
)
