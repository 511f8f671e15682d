package pipeline

import (
	"errors"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// DualWriter exports to CSV and JSONL at the same time.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter opens both output files.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, eris.Wrap(err, "create csv writer")
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "create json writer")
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes records to both outputs.
func (dw *DualWriter) Write(records []*models.PropertyRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(records); err != nil {
		return eris.Wrap(err, "csv write")
	}
	if err := dw.jsonWriter.Write(records); err != nil {
		return eris.Wrap(err, "json write")
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csvWriter.Close(); err != nil {
		errs = append(errs, eris.Wrap(err, "csv close"))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, eris.Wrap(err, "json close"))
	}
	return errors.Join(errs...)
}

// Validate validates both outputs.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, eris.Wrap(err, "csv validation"))
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, eris.Wrap(err, "json validation"))
	}
	return errors.Join(errs...)
}
