package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

const isoDate = "2006-01-02"

// Store is the read-only view of persisted data the checks run against.
type Store interface {
	CountCards(ctx context.Context) (int64, error)
	InvalidCards(ctx context.Context, limit int) (int64, []domain.CardRow, error)
	CountPrices(ctx context.Context, sampleSize int) (int64, error)
	InvalidPrices(ctx context.Context, sampleSize, limit int) (int64, []domain.PriceRow, error)
	OrphanPrices(ctx context.Context, sampleSize, limit int) (int64, []domain.PriceRow, error)
	DuplicatePrices(ctx context.Context, sampleSize, limit int) (int64, int64, []domain.DuplicateGroup, error)
	PriceDates(ctx context.Context, sampleSize int) ([]domain.DateCount, error)
	CardsWithoutSet(ctx context.Context, limit int) (int64, []domain.CardRow, error)
	SetConflicts(ctx context.Context) ([]domain.SetConflict, error)
}

type failureRecorder interface {
	ValidationFailures(category string, failed int64)
}

type Options struct {
	Cards       bool `json:"cards"`
	Prices      bool `json:"prices"`
	ForeignKeys bool `json:"foreignKeys"`
	Integrity   bool `json:"integrity"`
	Sets        bool `json:"sets"`
	// SampleSize > 0 limits price checks to that many rows.
	SampleSize int `json:"sampleSize,omitempty"`
}

// AllChecks enables the four core categories.
func AllChecks() Options {
	return Options{Cards: true, Prices: true, ForeignKeys: true, Integrity: true}
}

type Config struct {
	// MaxIssues caps the issue list of each category.
	MaxIssues int
}

// Engine audits stored cards and prices. It takes no lock and may run while
// an import is writing.
type Engine struct {
	store   Store
	cfg     Config
	metrics failureRecorder
	log     *logger.Logger
}

func NewEngine(store Store, cfg Config, metrics failureRecorder, log *logger.Logger) *Engine {
	if cfg.MaxIssues <= 0 {
		cfg.MaxIssues = 50
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{store: store, cfg: cfg, metrics: metrics, log: log}
}

type check func(ctx context.Context, opts Options) (*domain.CategoryResult, error)

func (e *Engine) Validate(ctx context.Context, opts Options) (domain.ValidationReport, error) {
	checks := map[domain.ValidationCategory]check{}
	if opts.Cards {
		checks[domain.CategoryCardSchema] = e.checkCards
	}
	if opts.Prices {
		checks[domain.CategoryPriceSchema] = e.checkPrices
	}
	if opts.ForeignKeys {
		checks[domain.CategoryForeignKey] = e.checkForeignKeys
	}
	if opts.Integrity {
		checks[domain.CategoryDataIntegrity] = e.checkIntegrity
	}
	if opts.Sets {
		checks[domain.CategorySetConsistency] = e.checkSets
	}

	started := time.Now()
	report := domain.ValidationReport{Categories: make(map[domain.ValidationCategory]*domain.CategoryResult, len(checks))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for category, run := range checks {
		category, run := category, run
		g.Go(func() error {
			result, err := run(gctx, opts)
			if err != nil {
				return fmt.Errorf("%s check: %w", category, err)
			}
			mu.Lock()
			report.Categories[category] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.ValidationReport{}, err
	}

	for category, result := range report.Categories {
		if e.metrics != nil {
			e.metrics.ValidationFailures(string(category), result.Failed)
		}
	}
	e.log.Info("validation finished",
		"categories", len(report.Categories),
		"passed", report.Passed(),
		"sample_size", opts.SampleSize,
		"elapsed", time.Since(started).String(),
	)
	return report, nil
}

func (e *Engine) checkCards(ctx context.Context, _ Options) (*domain.CategoryResult, error) {
	total, err := e.store.CountCards(ctx)
	if err != nil {
		return nil, err
	}
	failed, rows, err := e.store.InvalidCards(ctx, e.cfg.MaxIssues)
	if err != nil {
		return nil, err
	}

	issues := newIssueList(e.cfg.MaxIssues)
	for _, row := range rows {
		var missing []string
		if strings.TrimSpace(row.UUID) == "" {
			missing = append(missing, "uuid")
		}
		if strings.TrimSpace(row.Name) == "" {
			missing = append(missing, "name")
		}
		issues.add(fmt.Sprintf("card %q: missing %s", row.UUID, strings.Join(missing, " and ")))
	}
	issues.hide(failed - int64(len(rows)))
	return issues.result(total, failed), nil
}

func (e *Engine) checkPrices(ctx context.Context, opts Options) (*domain.CategoryResult, error) {
	total, err := e.store.CountPrices(ctx, opts.SampleSize)
	if err != nil {
		return nil, err
	}
	failed, rows, err := e.store.InvalidPrices(ctx, opts.SampleSize, e.cfg.MaxIssues)
	if err != nil {
		return nil, err
	}

	issues := newIssueList(e.cfg.MaxIssues)
	for _, row := range rows {
		var problems []string
		if strings.TrimSpace(row.CardUUID) == "" {
			problems = append(problems, "missing cardUuid")
		}
		if strings.TrimSpace(row.Date) == "" {
			problems = append(problems, "missing date")
		}
		if strings.TrimSpace(row.Source) == "" {
			problems = append(problems, "missing source")
		}
		if price, err := decimal.NewFromString(row.PriceUSD); err == nil && !price.IsPositive() {
			problems = append(problems, fmt.Sprintf("price %s is not greater than zero", row.PriceUSD))
		}
		issues.add(fmt.Sprintf("price row %d: %s", row.ID, strings.Join(problems, ", ")))
	}
	issues.hide(failed - int64(len(rows)))
	return issues.result(total, failed), nil
}

func (e *Engine) checkForeignKeys(ctx context.Context, opts Options) (*domain.CategoryResult, error) {
	total, err := e.store.CountPrices(ctx, opts.SampleSize)
	if err != nil {
		return nil, err
	}
	failed, rows, err := e.store.OrphanPrices(ctx, opts.SampleSize, e.cfg.MaxIssues)
	if err != nil {
		return nil, err
	}

	issues := newIssueList(e.cfg.MaxIssues)
	for _, row := range rows {
		issues.add(fmt.Sprintf("price row %d: card %s does not exist", row.ID, row.CardUUID))
	}
	issues.hide(failed - int64(len(rows)))
	return issues.result(total, failed), nil
}

func (e *Engine) checkIntegrity(ctx context.Context, opts Options) (*domain.CategoryResult, error) {
	total, err := e.store.CountPrices(ctx, opts.SampleSize)
	if err != nil {
		return nil, err
	}
	groups, dupRows, dups, err := e.store.DuplicatePrices(ctx, opts.SampleSize, e.cfg.MaxIssues)
	if err != nil {
		return nil, err
	}
	dates, err := e.store.PriceDates(ctx, opts.SampleSize)
	if err != nil {
		return nil, err
	}

	issues := newIssueList(e.cfg.MaxIssues)
	for _, d := range dups {
		issues.add(fmt.Sprintf("duplicate price (%s, %s, %s): %d rows", d.CardUUID, d.Date, d.Source, d.Rows))
	}
	issues.hide(groups - int64(len(dups)))

	var badDateRows int64
	for _, d := range dates {
		if d.Date == "" || isISODate(d.Date) {
			continue
		}
		badDateRows += d.Rows
		issues.add(fmt.Sprintf("malformed date %q on %d rows", d.Date, d.Rows))
	}

	return issues.result(total, dupRows+badDateRows), nil
}

func (e *Engine) checkSets(ctx context.Context, _ Options) (*domain.CategoryResult, error) {
	total, err := e.store.CountCards(ctx)
	if err != nil {
		return nil, err
	}
	missing, rows, err := e.store.CardsWithoutSet(ctx, e.cfg.MaxIssues)
	if err != nil {
		return nil, err
	}
	conflicts, err := e.store.SetConflicts(ctx)
	if err != nil {
		return nil, err
	}

	issues := newIssueList(e.cfg.MaxIssues)
	for _, row := range rows {
		issues.add(fmt.Sprintf("card %s (%s): missing set code", row.UUID, row.Name))
	}
	issues.hide(missing - int64(len(rows)))

	failed := missing
	for _, c := range conflicts {
		failed += c.Cards
		issues.add(fmt.Sprintf("set %s has %d different names across %d cards", c.SetCode, c.Names, c.Cards))
	}
	return issues.result(total, failed), nil
}

func isISODate(s string) bool {
	_, err := time.Parse(isoDate, s)
	return err == nil
}

// issueList keeps at most max messages and counts the rest.
type issueList struct {
	max    int
	issues []string
	hidden int64
}

func newIssueList(max int) *issueList {
	return &issueList{max: max, issues: []string{}}
}

func (l *issueList) add(msg string) {
	if len(l.issues) < l.max {
		l.issues = append(l.issues, msg)
		return
	}
	l.hidden++
}

func (l *issueList) hide(n int64) {
	if n > 0 {
		l.hidden += n
	}
}

func (l *issueList) result(total, failed int64) *domain.CategoryResult {
	passed := total - failed
	if passed < 0 {
		passed = 0
	}
	res := &domain.CategoryResult{Passed: passed, Failed: failed, Issues: l.issues}
	if l.hidden > 0 {
		res.Truncated = true
		res.Issues = append(res.Issues, fmt.Sprintf("... and %d more not shown", l.hidden))
	}
	return res
}
