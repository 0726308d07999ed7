// Package sheets mirrors remote tables into spreadsheets: records are
// flattened onto the sorted union of their field names and the destination
// sheet is overwritten in one full-range write.
package sheets

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
)

// Attachment and relation fields never mirror cleanly into cells.
var ignoredFields = map[string]bool{
	airtable.FieldPictures: true,
	airtable.FieldMedical:  true,
}

// RecordFetcher reads all records of a table. Satisfied by airtable.Client.
type RecordFetcher interface {
	FetchAll(ctx context.Context, table string) ([]airtable.Record, error)
}

// GridWriter overwrites a destination sheet with a full grid. Satisfied by
// the Google Sheets implementation below; tests substitute a fake.
type GridWriter interface {
	Overwrite(ctx context.Context, fileKey string, grid [][]any) error
}

// Mapping pairs a table with its destination spreadsheet.
type Mapping struct {
	Table   string
	FileKey string
}

// Mirror flattens tables into spreadsheets.
type Mirror struct {
	store  RecordFetcher
	writer GridWriter
	log    *zap.Logger
}

// NewMirror creates a mirror over the given record store and sheet writer.
func NewMirror(store RecordFetcher, writer GridWriter, log *zap.Logger) *Mirror {
	return &Mirror{store: store, writer: writer, log: log}
}

// BuildGrid projects records onto the sorted union of their scalar field
// names. Row one is the header; every record row has exactly one cell per
// header column, empty when the record lacks the field. The id and
// createdTime of each record are always included.
func BuildGrid(records []airtable.Record) [][]any {
	flat := make([]map[string]any, 0, len(records))
	union := map[string]bool{}
	for _, rec := range records {
		row := map[string]any{
			"id":          rec.ID,
			"createdTime": rec.CreatedTime,
		}
		for name, value := range rec.Fields {
			if ignoredFields[name] {
				continue
			}
			if _, isList := value.([]any); isList {
				continue
			}
			row[name] = value
		}
		for name := range row {
			union[name] = true
		}
		flat = append(flat, row)
	}

	header := make([]string, 0, len(union))
	for name := range union {
		header = append(header, name)
	}
	sort.Strings(header)

	grid := make([][]any, 0, len(flat)+1)
	headerRow := make([]any, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	grid = append(grid, headerRow)

	for _, row := range flat {
		cells := make([]any, len(header))
		for i, name := range header {
			if value, ok := row[name]; ok {
				cells[i] = value
			} else {
				cells[i] = ""
			}
		}
		grid = append(grid, cells)
	}
	return grid
}

// Sync mirrors one table. The reported row count is the number of rows
// written including the header; any failure, including the row-count
// verification, yields zero (a failed write and an empty table are
// indistinguishable to the caller).
func (m *Mirror) Sync(ctx context.Context, table, fileKey string) int {
	records, err := m.store.FetchAll(ctx, table)
	if err != nil {
		m.log.Error("sheet source fetch failed", zap.String("table", table), zap.Error(err))
		return 0
	}
	if len(records) == 0 {
		m.log.Info("no records to mirror", zap.String("table", table))
		return 0
	}

	grid := BuildGrid(records)
	if len(grid) != len(records)+1 {
		m.log.Error("record/row count mismatch",
			zap.String("table", table),
			zap.Int("records", len(records)),
			zap.Int("rows", len(grid)))
		return 0
	}

	m.log.Info("writing sheet",
		zap.String("table", table),
		zap.Int("rows", len(grid)))
	if err := m.writer.Overwrite(ctx, fileKey, grid); err != nil {
		m.log.Error("sheet write failed", zap.String("table", table), zap.Error(err))
		return 0
	}
	return len(grid)
}

// SyncAll mirrors every mapped table and returns the total row count. Tables
// fail independently.
func (m *Mirror) SyncAll(ctx context.Context, mappings []Mapping) int {
	total := 0
	for _, mapping := range mappings {
		total += m.Sync(ctx, mapping.Table, mapping.FileKey)
	}
	return total
}

// GoogleWriter writes grids through the Google Sheets API.
type GoogleWriter struct {
	svc *sheetsapi.Service
}

// NewGoogleWriter builds a sheets client from a service-account credentials
// file.
func NewGoogleWriter(ctx context.Context, credentialsFile string) (*GoogleWriter, error) {
	svc, err := sheetsapi.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleWriter{svc: svc}, nil
}

// Overwrite replaces the sheet content starting at A1.
func (w *GoogleWriter) Overwrite(ctx context.Context, fileKey string, grid [][]any) error {
	_, err := w.svc.Spreadsheets.Values.
		Update(fileKey, "A1", &sheetsapi.ValueRange{Values: grid}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", fileKey, err)
	}
	return nil
}
