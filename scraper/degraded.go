package scraper

import (
	"context"
	_ "embed"
	"time"

	"github.com/aluiziolira/go-auction-ingest/models"
)

//go:embed fallback/listings.json
var fallbackListings []byte

// DegradedSource stands in for an API source that has no credential. It
// serves the bundled fallback dataset, in the API's JSON shape, as a single
// page.
type DegradedSource struct {
	name   string
	now    func() time.Time
	closed bool
}

// NewDegradedSource builds the fallback source for the named API source.
func NewDegradedSource(name string, now func() time.Time) *DegradedSource {
	if now == nil {
		now = time.Now
	}
	return &DegradedSource{name: name, now: now}
}

// Name returns the source name of the API it replaces.
func (d *DegradedSource) Name() string { return d.name }

// Degraded marks the source as a fallback for run reporting.
func (d *DegradedSource) Degraded() bool { return true }

// Fetch serves the fallback payload for cursor 0.
func (d *DegradedSource) Fetch(_ context.Context, cursor int) (*models.RawDocument, error) {
	if d.closed {
		return nil, ErrSourceClosed
	}
	if cursor > 0 {
		return nil, ErrEndOfStream
	}
	content := make([]byte, len(fallbackListings))
	copy(content, fallbackListings)
	return &models.RawDocument{
		SourceSite:  d.name,
		FetchedAt:   d.now(),
		OriginURL:   "embedded:fallback/listings.json",
		PageIndex:   cursor,
		ContentType: models.ContentJSON,
		Content:     content,
	}, nil
}

// Close marks the source closed.
func (d *DegradedSource) Close() error {
	d.closed = true
	return nil
}
