package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/file"
)

const (
	DatasetCards  = "cards"
	DatasetPrices = "prices"
)

const (
	PhaseScanning = "scanning"
	PhaseLoading  = "loading"
	PhaseDone     = "done"
)

// maxConsecutiveBatchFailures is how many batches in a row may fail before
// the job gives up.
const maxConsecutiveBatchFailures = 3

var errDebugLimit = errors.New("debug limit reached")

type JSONOptions struct {
	// DebugLimit stops the load after that many records. Zero means no limit.
	DebugLimit int    `json:"debugLimit,omitempty"`
	Dataset    string `json:"dataset,omitempty"`
	BatchSize  int    `json:"batchSize,omitempty"`
}

type JSONLoaderConfig struct {
	BatchSize int
}

// JSONLoader streams a card or price feed into the store in batches. Each
// batch is its own transaction; a failed batch is tallied and skipped.
type JSONLoader struct {
	source Source
	writer CardWriter
	cfg    JSONLoaderConfig
}

func NewJSONLoader(source Source, writer CardWriter, cfg JSONLoaderConfig) *JSONLoader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2000
	}
	return &JSONLoader{source: source, writer: writer, cfg: cfg}
}

// Ingest checks the whole document before writing anything, so a malformed
// source fails with ErrStructuralParse and commits nothing.
func (l *JSONLoader) Ingest(ctx context.Context, run Run, sourcePath string, opts JSONOptions) (domain.Stats, error) {
	dataset := strings.ToLower(strings.TrimSpace(opts.Dataset))
	if dataset == "" {
		dataset = DatasetCards
	}
	if dataset != DatasetCards && dataset != DatasetPrices {
		return domain.Stats{}, fmt.Errorf("%w: unknown dataset %q", domain.ErrInvalidSource, opts.Dataset)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = l.cfg.BatchSize
	}

	total, err := l.scan(ctx, run, sourcePath, dataset)
	if err != nil {
		return domain.Stats{}, err
	}
	if opts.DebugLimit > 0 && (total < 0 || total > int64(opts.DebugLimit)) {
		total = int64(opts.DebugLimit)
	}

	reader, size, err := l.source.Open(ctx, sourcePath)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}
	defer reader.Close()

	counting := file.NewCountingReader(reader)
	run.Reporter.TrackBytes(counting.Count, size)

	ld := &jsonLoad{
		loader:    l,
		run:       run,
		dataset:   dataset,
		batchSize: batchSize,
		limit:     int64(opts.DebugLimit),
		total:     total,
		dec:       json.NewDecoder(counting),
	}
	if dataset == DatasetPrices {
		ld.dec.UseNumber()
	}

	err = ld.walk(ctx)
	if errors.Is(err, errDebugLimit) {
		run.logger().Info("debug limit reached", "limit", opts.DebugLimit)
		err = nil
	}
	if err == nil {
		err = ld.flush(ctx)
	}
	ld.stats.BytesRead = counting.Count()
	if err != nil {
		return ld.stats, err
	}

	run.Reporter.Flush(ctx, PhaseDone, ld.stats.RecordsProcessed, ld.stats.RecordsProcessed)
	return ld.stats, nil
}

func (l *JSONLoader) scan(ctx context.Context, run Run, sourcePath, dataset string) (int64, error) {
	reader, size, err := l.source.Open(ctx, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
	}
	defer reader.Close()

	run.Reporter.Flush(ctx, PhaseScanning, 0, 0)
	total, err := scanJSONStructure(reader, dataset)
	if err != nil {
		return 0, err
	}
	run.logger().Info("source scanned", "dataset", dataset, "records", total, "bytes", size)
	return total, nil
}

type jsonLoad struct {
	loader    *JSONLoader
	run       Run
	dataset   string
	batchSize int
	limit     int64
	total     int64
	dec       *json.Decoder

	stats        domain.Stats
	cards        []card.Card
	prices       []card.Price
	batchStart   int64
	failedInARow int
}

func (ld *jsonLoad) walk(ctx context.Context) error {
	tok, err := ld.dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
	}

	switch tok {
	case json.Delim('['):
		for ld.dec.More() {
			if err := ld.decodeRecord(ctx); err != nil {
				return err
			}
		}
		return ld.expectEnd()
	case json.Delim('{'):
		for ld.dec.More() {
			key, err := ld.dec.Token()
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
			}
			if key != "data" {
				var skip json.RawMessage
				if err := ld.dec.Decode(&skip); err != nil {
					return fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
				}
				continue
			}
			if err := ld.walkData(ctx); err != nil {
				return err
			}
		}
		return ld.expectEnd()
	}
	return fmt.Errorf("%w: top-level value must be an array or object", domain.ErrStructuralParse)
}

func (ld *jsonLoad) walkData(ctx context.Context) error {
	if tok, err := ld.dec.Token(); err != nil || tok != json.Delim('{') {
		return fmt.Errorf("%w: data member must be an object", domain.ErrStructuralParse)
	}
	for ld.dec.More() {
		tok, err := ld.dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
		}
		key, _ := tok.(string)

		if ld.dataset == DatasetPrices {
			err = ld.decodeNestedPrices(ctx, key)
		} else {
			err = ld.decodeSet(ctx, key)
		}
		if err != nil {
			return err
		}
	}
	return ld.expectEnd()
}

func (ld *jsonLoad) expectEnd() error {
	if _, err := ld.dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
	}
	return nil
}

type rawCard struct {
	UUID       string  `json:"uuid"`
	Name       string  `json:"name"`
	SetCode    string  `json:"setCode"`
	SetName    string  `json:"setName"`
	Rarity     string  `json:"rarity"`
	Type       string  `json:"type"`
	TypeLine   string  `json:"typeLine"`
	ManaCost   string  `json:"manaCost"`
	ManaValue  float64 `json:"manaValue"`
	CMC        float64 `json:"convertedManaCost"`
	OracleText string  `json:"text"`
}

func (c rawCard) toDomain(setCode, setName string) (card.Card, error) {
	out := card.Card{
		UUID:       c.UUID,
		Name:       c.Name,
		SetCode:    c.SetCode,
		SetName:    c.SetName,
		Rarity:     c.Rarity,
		TypeLine:   c.TypeLine,
		ManaCost:   c.ManaCost,
		CMC:        c.ManaValue,
		OracleText: c.OracleText,
	}
	if out.TypeLine == "" {
		out.TypeLine = c.Type
	}
	if out.CMC == 0 {
		out.CMC = c.CMC
	}
	if out.SetCode == "" {
		out.SetCode = setCode
	}
	if out.SetName == "" {
		out.SetName = setName
	}
	return card.NewCard(out)
}

type rawSet struct {
	Name  string            `json:"name"`
	Code  string            `json:"code"`
	Cards []json.RawMessage `json:"cards"`
}

type rawPrice struct {
	CardUUID string           `json:"cardUuid"`
	Date     string           `json:"date"`
	Source   string           `json:"source"`
	PriceUSD *decimal.Decimal `json:"priceUsd"`
}

// decodeRecord reads one element of a top-level array.
func (ld *jsonLoad) decodeRecord(ctx context.Context) error {
	if ld.dataset == DatasetPrices {
		var raw rawPrice
		decodeErr := ld.dec.Decode(&raw)
		if err := ld.checkDecode(decodeErr); err != nil {
			return err
		}
		return ld.addPrice(ctx, raw, decodeErr)
	}

	var raw rawCard
	decodeErr := ld.dec.Decode(&raw)
	if err := ld.checkDecode(decodeErr); err != nil {
		return err
	}
	return ld.addCard(ctx, raw, "", "", decodeErr)
}

func (ld *jsonLoad) decodeSet(ctx context.Context, code string) error {
	var set rawSet
	decodeErr := ld.dec.Decode(&set)
	if err := ld.checkDecode(decodeErr); err != nil {
		return err
	}
	if decodeErr != nil {
		ld.stats.AddFailure(ld.stats.RecordsProcessed, fmt.Sprintf("set %s: %v", code, decodeErr))
		return nil
	}

	setCode := set.Code
	if setCode == "" {
		setCode = code
	}
	for _, msg := range set.Cards {
		var raw rawCard
		unmarshalErr := json.Unmarshal(msg, &raw)
		if err := ld.addCard(ctx, raw, setCode, set.Name, unmarshalErr); err != nil {
			return err
		}
	}
	return nil
}

type rawProviderPrices struct {
	Retail struct {
		Normal map[string]json.Number `json:"normal"`
	} `json:"retail"`
}

// decodeNestedPrices reads one card's entry of a data-keyed price feed:
// provider -> retail -> normal -> date -> price.
func (ld *jsonLoad) decodeNestedPrices(ctx context.Context, cardUUID string) error {
	var providers map[string]rawProviderPrices
	decodeErr := ld.dec.Decode(&providers)
	if err := ld.checkDecode(decodeErr); err != nil {
		return err
	}
	if decodeErr != nil {
		return ld.addPrice(ctx, rawPrice{CardUUID: cardUUID}, decodeErr)
	}

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, source := range names {
		series := providers[source].Retail.Normal
		dates := make([]string, 0, len(series))
		for date := range series {
			dates = append(dates, date)
		}
		sort.Strings(dates)

		for _, date := range dates {
			raw := rawPrice{CardUUID: cardUUID, Date: date, Source: source}
			value, parseErr := decimal.NewFromString(series[date].String())
			if parseErr == nil {
				raw.PriceUSD = &value
			}
			if err := ld.addPrice(ctx, raw, parseErr); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkDecode separates a bad record, which the stream can skip past, from a
// broken stream, which fails the job.
func (ld *jsonLoad) checkDecode(err error) error {
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", domain.ErrStructuralParse, err)
	}
	return nil
}

func (ld *jsonLoad) addCard(ctx context.Context, raw rawCard, setCode, setName string, decodeErr error) error {
	index, err := ld.next(ctx)
	if err != nil {
		return err
	}

	if decodeErr != nil {
		ld.stats.AddFailure(index, decodeErr.Error())
	} else if c, err := raw.toDomain(setCode, setName); err != nil {
		ld.stats.AddFailure(index, err.Error())
	} else {
		ld.cards = append(ld.cards, c)
	}

	return ld.afterRecord(ctx)
}

func (ld *jsonLoad) addPrice(ctx context.Context, raw rawPrice, decodeErr error) error {
	index, err := ld.next(ctx)
	if err != nil {
		return err
	}

	if decodeErr != nil {
		ld.stats.AddFailure(index, decodeErr.Error())
	} else if p, err := card.NewPrice(raw.CardUUID, raw.Date, raw.Source, raw.PriceUSD); err != nil {
		ld.stats.AddFailure(index, err.Error())
	} else {
		ld.prices = append(ld.prices, p)
	}

	return ld.afterRecord(ctx)
}

// next claims the index of the next record, honouring cancellation and the
// debug limit.
func (ld *jsonLoad) next(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ld.limit > 0 && ld.stats.RecordsProcessed >= ld.limit {
		return 0, errDebugLimit
	}
	index := ld.stats.RecordsProcessed
	ld.stats.RecordsProcessed++
	return index, nil
}

func (ld *jsonLoad) afterRecord(ctx context.Context) error {
	ld.run.Reporter.Report(ctx, PhaseLoading, ld.stats.RecordsProcessed, ld.total)
	if len(ld.cards)+len(ld.prices) >= ld.batchSize {
		return ld.flush(ctx)
	}
	return nil
}

func (ld *jsonLoad) flush(ctx context.Context) error {
	pending := len(ld.cards) + len(ld.prices)
	if pending == 0 {
		ld.batchStart = ld.stats.RecordsProcessed
		return nil
	}

	var (
		result domain.BatchResult
		err    error
	)
	if ld.dataset == DatasetPrices {
		result, err = ld.loader.writer.InsertPrices(ctx, ld.run.JobID, ld.prices)
	} else {
		result, err = ld.loader.writer.UpsertCards(ctx, ld.run.JobID, ld.cards)
	}
	ld.cards = ld.cards[:0]
	ld.prices = ld.prices[:0]
	start := ld.batchStart
	ld.batchStart = ld.stats.RecordsProcessed

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		ld.failedInARow++
		ld.stats.AddBatchFailure(start, int64(pending), fmt.Sprintf("batch of %d records starting at %d: %v", pending, start, err))
		ld.run.logger().Error("batch failed", "start", start, "records", pending, "error", err)
		if ld.failedInARow >= maxConsecutiveBatchFailures {
			return fmt.Errorf("%d consecutive batches failed: %w", ld.failedInARow, err)
		}
		return nil
	}

	ld.failedInARow = 0
	ld.stats.Batches++
	ld.stats.RecordsImported += result.Imported
	ld.stats.RecordsUpdated += result.Updated
	ld.run.logger().Debug("batch committed",
		"start", start,
		"records", pending,
		"imported", result.Imported,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	ld.run.touch()
	return nil
}
