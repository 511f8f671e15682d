package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// OutputWriter exports property records.
type OutputWriter interface {
	Write(records []*models.PropertyRecord) error
	Close() error
	Validate() error
}

var csvHeader = []string{
	"case_number", "item_number", "source_site", "court_name", "address", "property_type",
	"building_name", "land_area", "building_area", "appraisal_value", "minimum_sale_price",
	"bid_deposit", "discount_rate", "auction_date", "auction_time", "auction_date_estimated",
	"failure_count", "current_status", "tenant_status", "notes", "source_url", "last_scraped_at",
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrap(err, "create csv file")
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "write csv header")
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "flush csv header")
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []*models.PropertyRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := cw.writer.Write(csvRow(rec)); err != nil {
			return eris.Wrap(err, "write csv record")
		}
		cw.rows++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return eris.Wrap(err, "flush csv records")
	}
	return nil
}

func csvRow(rec *models.PropertyRecord) []string {
	date := ""
	if rec.AuctionDate != nil {
		date = rec.AuctionDate.Format("2006-01-02")
	}
	return []string{
		rec.CaseNumber,
		rec.ItemNumber,
		rec.SourceSite,
		rec.CourtName,
		rec.Address,
		string(rec.PropertyType),
		deref(rec.BuildingName),
		formatFloat(rec.LandArea),
		formatFloat(rec.BuildingArea),
		strconv.FormatInt(rec.AppraisalValue, 10),
		strconv.FormatInt(rec.MinimumSalePrice, 10),
		strconv.FormatInt(rec.BidDeposit, 10),
		strconv.FormatFloat(rec.DiscountRate(), 'f', 1, 64),
		date,
		deref(rec.AuctionTime),
		strconv.FormatBool(rec.AuctionDateEstimated),
		strconv.Itoa(rec.FailureCount),
		string(rec.CurrentStatus),
		deref(rec.TenantStatus),
		deref(rec.Notes),
		rec.SourceURL,
		rec.LastScrapedAt.Format(time.RFC3339),
	}
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return eris.Wrap(err, "flush csv writer")
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.rows == 0 {
		return eris.New("csv file has no records")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON values.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	lines   int
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSONL writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrap(err, "create json file")
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.PropertyRecord) error {
	values := make([]any, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			values = append(values, rec)
		}
	}
	return jw.WriteValues(values...)
}

// WriteValues appends arbitrary values, one per line.
func (jw *JSONWriter) WriteValues(values ...any) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, v := range values {
		if err := jw.encoder.Encode(v); err != nil {
			return eris.Wrap(err, "encode json record")
		}
		jw.lines++
	}

	if err := jw.writer.Flush(); err != nil {
		return eris.Wrap(err, "flush json writer")
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return eris.Wrap(err, "flush json writer")
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.lines == 0 {
		return eris.New("json file has no records")
	}
	return nil
}

// NewExporter opens the writer for format: csv, jsonl or both. For both,
// output's extension is replaced by .csv and .jsonl.
func NewExporter(format, output string) (OutputWriter, error) {
	switch strings.ToLower(format) {
	case "", "csv":
		return NewCSVWriter(output)
	case "jsonl", "json":
		return NewJSONWriter(output)
	case "both":
		base := strings.TrimSuffix(output, filepath.Ext(output))
		return NewDualWriter(base+".csv", base+".jsonl")
	default:
		return nil, eris.Errorf("pipeline: unknown export format %q", format)
	}
}

type snapshotLine struct {
	SourceSite     string `json:"source_site"`
	RunID          int64  `json:"run_id"`
	PageIndex      int    `json:"page_index"`
	OriginURL      string `json:"origin_url"`
	ContentType    string `json:"content_type"`
	FetchedAt      string `json:"fetched_at"`
	LayoutMismatch bool   `json:"layout_mismatch"`
	Content        string `json:"content"`
}

// SnapshotWriter stores raw documents that produced no candidates, one JSONL
// file per run, for selector debugging. The file is created on first use.
type SnapshotWriter struct {
	dir    string
	source string
	runID  int64
	jw     *JSONWriter
}

// NewSnapshotWriter returns a writer under dir. An empty dir disables it.
func NewSnapshotWriter(dir, source string, runID int64) *SnapshotWriter {
	return &SnapshotWriter{dir: dir, source: source, runID: runID}
}

// Path is the snapshot file for this run.
func (sw *SnapshotWriter) Path() string {
	return filepath.Join(sw.dir, fmt.Sprintf("%s-run%d.jsonl", sw.source, sw.runID))
}

// Write appends doc to the run's snapshot file.
func (sw *SnapshotWriter) Write(doc *models.RawDocument) error {
	if sw == nil || sw.dir == "" || doc == nil {
		return nil
	}
	if sw.jw == nil {
		jw, err := NewJSONWriter(sw.Path())
		if err != nil {
			return err
		}
		sw.jw = jw
	}
	return sw.jw.WriteValues(snapshotLine{
		SourceSite:     doc.SourceSite,
		RunID:          sw.runID,
		PageIndex:      doc.PageIndex,
		OriginURL:      doc.OriginURL,
		ContentType:    string(doc.ContentType),
		FetchedAt:      doc.FetchedAt.Format(time.RFC3339),
		LayoutMismatch: doc.LayoutMismatch,
		Content:        string(doc.Content),
	})
}

// Close closes the snapshot file if one was opened.
func (sw *SnapshotWriter) Close() error {
	if sw == nil || sw.jw == nil {
		return nil
	}
	return sw.jw.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create directory %q", dir)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
