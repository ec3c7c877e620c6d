package migration

// BatchResult is what one committed batch did to the store.
type BatchResult struct {
	Imported int64
	Updated  int64
	Skipped  int64
}

type CardRow struct {
	UUID    string `gorm:"column:uuid"`
	Name    string `gorm:"column:name"`
	SetCode string `gorm:"column:set_code"`
}

type PriceRow struct {
	ID       int64  `gorm:"column:id"`
	CardUUID string `gorm:"column:card_uuid"`
	Date     string `gorm:"column:date"`
	Source   string `gorm:"column:source"`
	PriceUSD string `gorm:"column:price_usd"`
}

type DuplicateGroup struct {
	CardUUID string `gorm:"column:card_uuid"`
	Date     string `gorm:"column:date"`
	Source   string `gorm:"column:source"`
	Rows     int64  `gorm:"column:row_count"`
}

type DateCount struct {
	Date string `gorm:"column:date"`
	Rows int64  `gorm:"column:row_count"`
}

type SetConflict struct {
	SetCode string `gorm:"column:set_code"`
	Names   int64  `gorm:"column:name_count"`
	Cards   int64  `gorm:"column:card_count"`
}
