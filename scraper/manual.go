package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/models"
)

// ManualSource serves an operator-typed delimited block as a single page.
type ManualSource struct {
	cfg      config.SourceConfig
	readFile func(string) ([]byte, error)
	now      func() time.Time
	closed   bool
}

// NewManualSource builds a manual text source. Inline text wins over File.
func NewManualSource(cfg config.SourceConfig, o options) *ManualSource {
	return &ManualSource{cfg: cfg, readFile: o.readFile, now: o.now}
}

// Name returns the configured source name.
func (m *ManualSource) Name() string { return m.cfg.Name }

// Fetch returns the cleaned block for cursor 0 and ErrEndOfStream after.
func (m *ManualSource) Fetch(ctx context.Context, cursor int) (*models.RawDocument, error) {
	if m.closed {
		return nil, ErrSourceClosed
	}
	if cursor > 0 {
		return nil, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "manual: fetch")
	}

	raw, origin, err := m.read()
	if err != nil {
		return nil, err
	}

	kept, dropped := CleanManualText(string(decodeCharset(raw, m.cfg.Charset)), m.cfg.Delimiter, m.cfg.Sentinel)
	if dropped > 0 {
		zap.L().Info("manual input lines excluded",
			zap.String("source", m.cfg.Name),
			zap.Int("excluded", dropped),
		)
	}

	return &models.RawDocument{
		SourceSite:  m.cfg.Name,
		FetchedAt:   m.now(),
		OriginURL:   origin,
		PageIndex:   cursor,
		ContentType: models.ContentText,
		Content:     []byte(kept),
	}, nil
}

func (m *ManualSource) read() ([]byte, string, error) {
	if m.cfg.Text != "" {
		return []byte(m.cfg.Text), "manual:inline", nil
	}
	raw, err := m.readFile(m.cfg.File)
	if err != nil {
		return nil, "", eris.Wrapf(err, "manual: %s: read %s", m.cfg.Name, m.cfg.File)
	}
	return raw, "file://" + m.cfg.File, nil
}

// Close marks the source closed.
func (m *ManualSource) Close() error {
	m.closed = true
	return nil
}

// CleanManualText drops blank lines, comments, header lines and any line
// holding the sentinel marker. It returns the kept lines joined by newlines
// and the number of non-blank lines excluded.
func CleanManualText(text, delimiter, sentinel string) (string, int) {
	var kept []string
	dropped := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		line = strings.TrimPrefix(line, "\ufeff")
		if line == "" {
			continue
		}
		if isCommentLine(line) || isHeaderLine(line, delimiter) || (sentinel != "" && strings.Contains(line, sentinel)) {
			dropped++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), dropped
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//")
}

func isHeaderLine(line, delimiter string) bool {
	first := line
	if delimiter != "" {
		first, _, _ = strings.Cut(line, delimiter)
	}
	first = strings.TrimSpace(first)
	return first == "사건번호" || strings.EqualFold(first, "case_number")
}
