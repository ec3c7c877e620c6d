package migration_test

import (
	"context"
	"errors"
	"testing"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

var storedCards = []card.Card{
	{UUID: "uuid-bolt", Name: "Lightning Bolt", SetCode: "LEA"},
	{UUID: "uuid-counter", Name: "Counterspell", SetCode: "LEA"},
}

func newCSVImporter(files map[string]string, writer *fakeCollectionWriter) *app.CSVImporter {
	return app.NewCSVImporter(newFakeSource(files), &fakeResolver{cards: storedCards}, writer, app.CSVImporterConfig{BatchSize: 2})
}

func TestCSVNameOnlyUploadUsesDefaults(t *testing.T) {
	t.Parallel()

	files := map[string]string{"collection.csv": "name,quantity\nLightning Bolt,4\ncounterspell,2\n"}
	writer := &fakeCollectionWriter{}
	importer := newCSVImporter(files, writer)
	ctx := context.Background()

	rows, err := importer.Preview(ctx, "collection.csv", 10)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 preview rows, got %d", len(rows))
	}
	if rows[0].CardName != "Lightning Bolt" || rows[0].Quantity != 4 || rows[0].Line != 2 || rows[0].Error != "" {
		t.Fatalf("unexpected preview row: %+v", rows[0])
	}

	stats, err := importer.Import(ctx, app.Run{JobID: "job-1"}, "collection.csv", app.CSVOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.RecordsProcessed != 2 || stats.RecordsImported != 2 || stats.RecordsFailed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if len(writer.items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(writer.items))
	}
	for _, item := range writer.items {
		if item.Condition != card.ConditionUnspecified {
			t.Fatalf("expected default condition, got %q", item.Condition)
		}
		if item.PurchasePrice != nil {
			t.Fatalf("expected no purchase price, got %s", item.PurchasePrice)
		}
	}
	if writer.items[1].CardUUID != "uuid-counter" || writer.items[1].CardName != "Counterspell" {
		t.Fatalf("expected name resolved to stored card, got %+v", writer.items[1])
	}
}

func TestCSVValidateFormatReportsMissingCardColumn(t *testing.T) {
	t.Parallel()

	files := map[string]string{"bad.csv": "quantity,condition\n1,NM\n"}
	importer := newCSVImporter(files, &fakeCollectionWriter{})
	ctx := context.Background()

	report, err := importer.ValidateFormat(ctx, "bad.csv")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Valid {
		t.Fatal("expected invalid report")
	}
	if len(report.Errors) != 1 || report.Errors[0] != domain.ErrMissingCardColumn.Error() {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}

	if _, err := importer.Preview(ctx, "bad.csv", 5); !errors.Is(err, domain.ErrMissingCardColumn) {
		t.Fatalf("expected ErrMissingCardColumn from preview, got %v", err)
	}
	if _, err := importer.Import(ctx, app.Run{JobID: "job-1"}, "bad.csv", app.CSVOptions{}); !errors.Is(err, domain.ErrMissingCardColumn) {
		t.Fatalf("expected ErrMissingCardColumn from import, got %v", err)
	}
}

func TestCSVValidateFormatMapsAliases(t *testing.T) {
	t.Parallel()

	files := map[string]string{"aliases.csv": "\ufeffCard Name,Qty,Cond,Purchase Price,Scryfall-ID\nLightning Bolt,1,NM,$1.50,\nCounterspell,x,LP,,\n"}
	importer := newCSVImporter(files, &fakeCollectionWriter{})

	report, err := importer.ValidateFormat(context.Background(), "aliases.csv")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := map[string]string{
		app.ColumnName:      "Card Name",
		app.ColumnQuantity:  "Qty",
		app.ColumnCondition: "Cond",
		app.ColumnPrice:     "Purchase Price",
		app.ColumnUUID:      "Scryfall-ID",
	}
	for column, header := range want {
		if report.Mapping[column] != header {
			t.Fatalf("expected %s mapped to %q, got %q", column, header, report.Mapping[column])
		}
	}
	if report.Rows != 2 {
		t.Fatalf("expected 2 rows, got %d", report.Rows)
	}
	if report.Valid || len(report.Errors) != 1 {
		t.Fatalf("expected one row error for bad quantity, got %+v", report)
	}
}

func TestCSVImportTalliesBadAndUnresolvedRows(t *testing.T) {
	t.Parallel()

	files := map[string]string{"mixed.csv": "uuid,name,quantity,condition,price\n" +
		"uuid-bolt,,2,NM,1.25\n" +
		",Black Lotus,1,,\n" +
		",Counterspell,0,,\n" +
		",Counterspell,1,LP,abc\n" +
		",Counterspell,3,MP,0.10\n"}
	writer := &fakeCollectionWriter{}
	importer := newCSVImporter(files, writer)

	stats, err := importer.Import(context.Background(), app.Run{JobID: "job-1"}, "mixed.csv", app.CSVOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats.RecordsProcessed != 5 || stats.RecordsImported != 2 || stats.RecordsFailed != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	lines := map[int64]bool{}
	for _, f := range stats.Failures {
		lines[f.Index] = true
	}
	for _, line := range []int64{3, 4, 5} {
		if !lines[line] {
			t.Fatalf("expected failure on line %d, got %+v", line, stats.Failures)
		}
	}

	if writer.items[0].CardName != "Lightning Bolt" || writer.items[0].PurchasePrice.String() != "1.25" {
		t.Fatalf("unexpected first item: %+v", writer.items[0])
	}
}

func TestCSVImportEmptyFileIsStructural(t *testing.T) {
	t.Parallel()

	importer := newCSVImporter(map[string]string{"empty.csv": ""}, &fakeCollectionWriter{})
	_, err := importer.Import(context.Background(), app.Run{JobID: "job-1"}, "empty.csv", app.CSVOptions{})
	if !errors.Is(err, domain.ErrStructuralParse) {
		t.Fatalf("expected ErrStructuralParse, got %v", err)
	}
}

func TestCSVImportContainsFailedLookup(t *testing.T) {
	t.Parallel()

	files := map[string]string{"collection.csv": "name\nLightning Bolt\nCounterspell\nLightning Bolt\nCounterspell\n"}
	resolver := &fakeResolver{cards: storedCards, failFirst: 1, err: errors.New("connection reset by peer")}
	writer := &fakeCollectionWriter{}
	importer := app.NewCSVImporter(newFakeSource(files), resolver, writer, app.CSVImporterConfig{BatchSize: 2})

	stats, err := importer.Import(context.Background(), app.Run{JobID: "job-1"}, "collection.csv", app.CSVOptions{})
	if err != nil {
		t.Fatalf("expected the failed lookup to be contained, got %v", err)
	}
	if stats.RecordsProcessed != 4 || stats.RecordsFailed != 2 || stats.RecordsImported != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Failures) != 1 || stats.Failures[0].Index != 2 {
		t.Fatalf("expected one batch failure from line 2, got %+v", stats.Failures)
	}
	if len(writer.items) != 2 {
		t.Fatalf("expected the second batch to be written, got %d items", len(writer.items))
	}
}

func TestCSVImportFailsAfterConsecutiveLookupFailures(t *testing.T) {
	t.Parallel()

	files := map[string]string{"collection.csv": "name\nLightning Bolt\nCounterspell\nLightning Bolt\nCounterspell\nLightning Bolt\nCounterspell\nLightning Bolt\n"}
	lookupErr := errors.New("connection refused")
	resolver := &fakeResolver{failFirst: -1, err: lookupErr}
	importer := app.NewCSVImporter(newFakeSource(files), resolver, &fakeCollectionWriter{}, app.CSVImporterConfig{BatchSize: 2})

	stats, err := importer.Import(context.Background(), app.Run{JobID: "job-1"}, "collection.csv", app.CSVOptions{})
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error after repeated failures, got %v", err)
	}
	if stats.RecordsFailed != 6 || resolver.calls != 3 {
		t.Fatalf("expected 3 failed batches of 2 rows, got failed=%d calls=%d", stats.RecordsFailed, resolver.calls)
	}
}
