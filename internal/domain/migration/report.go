package migration

type ValidationCategory string

const (
	CategoryCardSchema     ValidationCategory = "card-schema"
	CategoryPriceSchema    ValidationCategory = "price-schema"
	CategoryForeignKey     ValidationCategory = "foreign-key"
	CategoryDataIntegrity  ValidationCategory = "data-integrity"
	CategorySetConsistency ValidationCategory = "set-consistency"
)

type CategoryResult struct {
	Passed    int64    `json:"passed"`
	Failed    int64    `json:"failed"`
	Issues    []string `json:"issues"`
	Truncated bool     `json:"truncated,omitempty"`
}

// OK reports whether the category found nothing.
func (r CategoryResult) OK() bool {
	return r.Failed == 0
}

// ValidationReport holds one result per category that was requested.
type ValidationReport struct {
	Categories map[ValidationCategory]*CategoryResult `json:"categories"`
}

func (r ValidationReport) Passed() bool {
	for _, c := range r.Categories {
		if !c.OK() {
			return false
		}
	}
	return true
}
