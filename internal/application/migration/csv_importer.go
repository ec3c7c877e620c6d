package migration

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/file"
)

const (
	ColumnUUID      = "uuid"
	ColumnName      = "name"
	ColumnQuantity  = "quantity"
	ColumnCondition = "condition"
	ColumnPrice     = "price"
)

const defaultPreviewRows = 10

var columnAliases = map[string]string{
	"uuid":           ColumnUUID,
	"card_uuid":      ColumnUUID,
	"scryfall_id":    ColumnUUID,
	"id":             ColumnUUID,
	"name":           ColumnName,
	"card_name":      ColumnName,
	"card":           ColumnName,
	"quantity":       ColumnQuantity,
	"qty":            ColumnQuantity,
	"count":          ColumnQuantity,
	"condition":      ColumnCondition,
	"cond":           ColumnCondition,
	"price":          ColumnPrice,
	"purchase_price": ColumnPrice,
	"price_usd":      ColumnPrice,
}

type CSVFormatReport struct {
	Valid    bool              `json:"valid"`
	Columns  []string          `json:"columns"`
	Mapping  map[string]string `json:"mapping"`
	Rows     int64             `json:"rows"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// CSVRow is one parsed data row. Line is the 1-based line in the file, the
// header being line 1.
type CSVRow struct {
	Line          int64            `json:"line"`
	CardUUID      string           `json:"cardUuid,omitempty"`
	CardName      string           `json:"cardName,omitempty"`
	Quantity      int              `json:"quantity"`
	Condition     string           `json:"condition"`
	PurchasePrice *decimal.Decimal `json:"purchasePrice,omitempty"`
	Error         string           `json:"error,omitempty"`
}

type CSVOptions struct {
	BatchSize  int `json:"batchSize,omitempty"`
	DebugLimit int `json:"debugLimit,omitempty"`
}

type CSVImporterConfig struct {
	BatchSize int
}

// CSVImporter checks, previews and imports collection uploads. Rows are
// matched to stored cards by uuid, falling back to a case-insensitive name.
type CSVImporter struct {
	source   Source
	resolver CardResolver
	writer   CollectionWriter
	cfg      CSVImporterConfig
}

func NewCSVImporter(source Source, resolver CardResolver, writer CollectionWriter, cfg CSVImporterConfig) *CSVImporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &CSVImporter{source: source, resolver: resolver, writer: writer, cfg: cfg}
}

type csvFile struct {
	reader  *csv.Reader
	closer  io.Closer
	counter *file.CountingReader
	size    int64
	header  []string
	// index maps a canonical column to its position in header.
	index map[string]int
	line  int64
}

func (c *CSVImporter) open(ctx context.Context, sourcePath string) (*csvFile, error) {
	rc, size, err := c.source.Open(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}

	counter := file.NewCountingReader(rc)
	br := stripUTF8BOM(bufio.NewReader(counter))
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		rc.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", domain.ErrStructuralParse)
		}
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrStructuralParse, err)
	}

	f := &csvFile{
		reader:  r,
		closer:  rc,
		counter: counter,
		size:    size,
		header:  make([]string, len(header)),
		index:   make(map[string]int, len(header)),
		line:    1,
	}
	for i, h := range header {
		f.header[i] = strings.TrimSpace(h)
		if canonical, ok := columnAliases[normalizeHeader(h)]; ok {
			if _, dup := f.index[canonical]; !dup {
				f.index[canonical] = i
			}
		}
	}
	return f, nil
}

func (f *csvFile) Close() error {
	return f.closer.Close()
}

func (f *csvFile) hasCardColumn() bool {
	_, hasUUID := f.index[ColumnUUID]
	_, hasName := f.index[ColumnName]
	return hasUUID || hasName
}

// next returns the following data row, skipping blank lines. A malformed
// line is returned as a row carrying Error.
func (f *csvFile) next() (CSVRow, error) {
	for {
		record, err := f.reader.Read()
		if errors.Is(err, io.EOF) {
			return CSVRow{}, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				f.line = int64(parseErr.Line)
				return CSVRow{Line: f.line, Error: parseErr.Err.Error()}, nil
			}
			return CSVRow{}, fmt.Errorf("read csv: %w", err)
		}
		if isBlankRecord(record) {
			continue
		}
		line, _ := f.reader.FieldPos(0)
		f.line = int64(line)
		return f.parse(record), nil
	}
}

func (f *csvFile) field(record []string, column string) string {
	i, ok := f.index[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (f *csvFile) parse(record []string) CSVRow {
	row := CSVRow{
		Line:      f.line,
		CardUUID:  f.field(record, ColumnUUID),
		CardName:  f.field(record, ColumnName),
		Quantity:  1,
		Condition: card.ConditionUnspecified,
	}
	if len(record) != len(f.header) {
		row.Error = fmt.Sprintf("expected %d fields, got %d", len(f.header), len(record))
		return row
	}

	if raw := f.field(record, ColumnQuantity); raw != "" {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			row.Error = fmt.Sprintf("invalid quantity %q", raw)
			return row
		}
		row.Quantity = qty
	}
	if raw := f.field(record, ColumnCondition); raw != "" {
		row.Condition = raw
	}
	if raw := strings.TrimPrefix(f.field(record, ColumnPrice), "$"); raw != "" {
		price, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			row.Error = fmt.Sprintf("invalid price %q", raw)
			return row
		}
		row.PurchasePrice = &price
	}

	if _, err := card.NewCollectionItem(row.CardUUID, row.CardName, row.Quantity, row.Condition, row.PurchasePrice); err != nil {
		row.Error = err.Error()
	}
	return row
}

// ValidateFormat reads the whole file and reports how its header maps onto
// collection columns. A file without a card name or uuid column is invalid;
// that is reported, not returned as an error.
func (c *CSVImporter) ValidateFormat(ctx context.Context, sourcePath string) (CSVFormatReport, error) {
	f, err := c.open(ctx, sourcePath)
	if err != nil {
		return CSVFormatReport{}, err
	}
	defer f.Close()

	report := CSVFormatReport{
		Columns: f.header,
		Mapping: make(map[string]string, len(f.index)),
	}
	for column, i := range f.index {
		report.Mapping[column] = f.header[i]
	}
	if !f.hasCardColumn() {
		report.Errors = append(report.Errors, domain.ErrMissingCardColumn.Error())
	}
	if _, ok := f.index[ColumnQuantity]; !ok {
		report.Warnings = append(report.Warnings, "no quantity column, every row counts as 1")
	}
	if _, ok := f.index[ColumnCondition]; !ok {
		report.Warnings = append(report.Warnings, fmt.Sprintf("no condition column, rows are stored as %q", card.ConditionUnspecified))
	}
	if _, ok := f.index[ColumnPrice]; !ok {
		report.Warnings = append(report.Warnings, "no price column, purchase price is left empty")
	}

	var badRows int
	for {
		if err := ctx.Err(); err != nil {
			return CSVFormatReport{}, err
		}
		row, err := f.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return CSVFormatReport{}, err
		}
		report.Rows++
		if row.Error != "" && f.hasCardColumn() {
			badRows++
			if badRows <= maxReportedRowErrors {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d: %s", row.Line, row.Error))
			}
		}
	}
	if badRows > maxReportedRowErrors {
		report.Errors = append(report.Errors, fmt.Sprintf("... and %d more invalid rows", badRows-maxReportedRowErrors))
	}
	if report.Rows == 0 {
		report.Warnings = append(report.Warnings, "file has a header but no rows")
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

const maxReportedRowErrors = 20

// Preview parses up to maxRows data rows without touching the store.
func (c *CSVImporter) Preview(ctx context.Context, sourcePath string, maxRows int) ([]CSVRow, error) {
	if maxRows <= 0 {
		maxRows = defaultPreviewRows
	}

	f, err := c.open(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !f.hasCardColumn() {
		return nil, domain.ErrMissingCardColumn
	}

	rows := make([]CSVRow, 0, maxRows)
	for len(rows) < maxRows {
		row, err := f.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CheckHeader opens the file and fails unless its header maps a card name or
// uuid column.
func (c *CSVImporter) CheckHeader(ctx context.Context, sourcePath string) error {
	f, err := c.open(ctx, sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if !f.hasCardColumn() {
		return domain.ErrMissingCardColumn
	}
	return nil
}

// Import commits every valid row whose card can be found. Rows that fail to
// parse or resolve are tallied as record failures and skipped.
func (c *CSVImporter) Import(ctx context.Context, run Run, sourcePath string, opts CSVOptions) (domain.Stats, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = c.cfg.BatchSize
	}

	f, err := c.open(ctx, sourcePath)
	if err != nil {
		return domain.Stats{}, err
	}
	defer f.Close()

	if !f.hasCardColumn() {
		return domain.Stats{}, domain.ErrMissingCardColumn
	}
	run.Reporter.TrackBytes(f.counter.Count, f.size)

	var (
		stats        domain.Stats
		batch        []CSVRow
		failedInARow int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.commit(ctx, run, batch, &stats, &failedInARow)
		batch = batch[:0]
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			stats.BytesRead = f.counter.Count()
			return stats, err
		}
		if opts.DebugLimit > 0 && stats.RecordsProcessed >= int64(opts.DebugLimit) {
			run.logger().Info("debug limit reached", "limit", opts.DebugLimit)
			break
		}

		row, err := f.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.BytesRead = f.counter.Count()
			return stats, fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
		}

		stats.RecordsProcessed++
		if row.Error != "" {
			stats.AddFailure(row.Line, row.Error)
		} else {
			batch = append(batch, row)
		}

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				stats.BytesRead = f.counter.Count()
				return stats, err
			}
		}
		run.Reporter.Report(ctx, PhaseLoading, stats.RecordsProcessed, 0)
	}

	if err := flush(); err != nil {
		stats.BytesRead = f.counter.Count()
		return stats, err
	}
	stats.BytesRead = f.counter.Count()
	run.Reporter.Flush(ctx, PhaseDone, stats.RecordsProcessed, stats.RecordsProcessed)
	return stats, nil
}

// commit resolves and writes one batch. A failed lookup or write is tallied
// against the batch's rows; only maxConsecutiveBatchFailures in a row fail
// the import.
func (c *CSVImporter) commit(ctx context.Context, run Run, rows []CSVRow, stats *domain.Stats, failedInARow *int) error {
	batchFailed := func(count int64, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		*failedInARow++
		stats.AddBatchFailure(rows[0].Line, count, fmt.Sprintf("batch from line %d: %v", rows[0].Line, err))
		run.logger().Error("collection batch failed", "line", rows[0].Line, "rows", count, "error", err)
		if *failedInARow >= maxConsecutiveBatchFailures {
			return fmt.Errorf("%d consecutive batches failed: %w", *failedInARow, err)
		}
		return nil
	}

	uuids := make([]string, 0, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.CardUUID != "" {
			uuids = append(uuids, row.CardUUID)
		} else {
			names = append(names, row.CardName)
		}
	}

	byUUID, byName, err := c.resolver.Resolve(ctx, uuids, names)
	if err != nil {
		return batchFailed(int64(len(rows)), fmt.Errorf("resolve cards: %w", err))
	}

	items := make([]card.CollectionItem, 0, len(rows))
	for _, row := range rows {
		var (
			found card.Card
			ok    bool
		)
		if row.CardUUID != "" {
			found, ok = byUUID[row.CardUUID]
		} else {
			found, ok = byName[strings.ToLower(row.CardName)]
		}
		if !ok {
			stats.AddFailure(row.Line, fmt.Sprintf("%v: %s%s", card.ErrUnresolvedCard, row.CardUUID, row.CardName))
			continue
		}

		item, err := card.NewCollectionItem(found.UUID, found.Name, row.Quantity, row.Condition, row.PurchasePrice)
		if err != nil {
			stats.AddFailure(row.Line, err.Error())
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		*failedInARow = 0
		return nil
	}
	result, err := c.writer.InsertCollectionItems(ctx, run.JobID, items)
	if err != nil {
		return batchFailed(int64(len(items)), err)
	}

	*failedInARow = 0
	stats.Batches++
	stats.RecordsImported += result.Imported
	stats.RecordsUpdated += result.Updated
	run.touch()
	return nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}
