// Package scraper holds the source adapters that turn configured sources
// into raw documents, one page per cursor.
package scraper

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/metrics"
	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/parser"
)

// Source produces raw documents for one configured source. Cursors start
// at zero and grow by one per page. Fetch returns ErrEndOfStream once the
// source is exhausted. Close releases the session and is safe to call more
// than once.
type Source interface {
	Name() string
	Fetch(ctx context.Context, cursor int) (*models.RawDocument, error)
	Close() error
}

// Option configures source construction.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	metrics   *metrics.Metrics
	now       func() time.Time
	target    time.Time
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// WithTransport sets the HTTP transport used by network sources.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithMetrics attaches fetch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTargetDate sets the start of the search window. The zero value means
// today.
func WithTargetDate(t time.Time) Option {
	return func(o *options) { o.target = t }
}

// WithLookupEnv overrides credential lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookupEnv = fn }
}

// WithReadFile overrides how manual sources read their input file.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(o *options) { o.readFile = fn }
}

// New builds the adapter for cfg. An API source whose credential variable
// is unset gets a DegradedSource serving the bundled fallback dataset.
func New(cfg config.SourceConfig, opts ...Option) (Source, error) {
	o := options{
		now:       time.Now,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Kind {
	case config.KindCrawler:
		return NewCrawler(cfg, o)
	case config.KindAPI:
		if cfg.CredentialEnv != "" {
			credential, ok := o.lookupEnv(cfg.CredentialEnv)
			if !ok || credential == "" {
				zap.L().Warn("api credential missing, serving fallback dataset",
					zap.String("source", cfg.Name),
					zap.String("credential_env", cfg.CredentialEnv),
				)
				return NewDegradedSource(cfg.Name, o.now), nil
			}
			return NewAPIClient(cfg, credential, o)
		}
		return NewAPIClient(cfg, "", o)
	case config.KindManual:
		return NewManualSource(cfg, o), nil
	default:
		return nil, eris.Errorf("scraper: unknown source kind %q", cfg.Kind)
	}
}

// searchWindow is the auction date range sent with filter submissions.
type searchWindow struct {
	from time.Time
	to   time.Time
}

func newSearchWindow(target time.Time, now func() time.Time, days int) searchWindow {
	if target.IsZero() {
		target = now()
	}
	from := target.In(parser.KST)
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, parser.KST)
	return searchWindow{from: from, to: from.AddDate(0, 0, days)}
}

// pageValues builds the request parameters for a cursor.
func pageValues(cfg config.SourceConfig, cursor int, w searchWindow) url.Values {
	values := url.Values{}
	for k, v := range cfg.Params {
		values.Set(k, v)
	}
	if cfg.PageParam != "" {
		values.Set(cfg.PageParam, strconv.Itoa(cfg.FirstPage+cursor))
	}
	if cfg.PageSizeParam != "" {
		values.Set(cfg.PageSizeParam, strconv.Itoa(cfg.PageSize))
	}
	if cfg.DateFromParam != "" {
		values.Set(cfg.DateFromParam, w.from.Format(cfg.DateFormat))
	}
	if cfg.DateToParam != "" {
		values.Set(cfg.DateToParam, w.to.Format(cfg.DateFormat))
	}
	return values
}

// requestTarget returns the URL and form body for a request. GET requests
// carry the values in the query string; POST requests in the body.
func requestTarget(base *url.URL, method string, values url.Values) (string, string) {
	if method == http.MethodPost {
		return base.String(), values.Encode()
	}
	u := *base
	q := u.Query()
	for k, vs := range values {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), ""
}

func parseBaseURL(cfg config.SourceConfig) (*url.URL, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: %s: parse base url", cfg.Name)
	}
	if parsed.Host == "" {
		return nil, eris.Errorf("scraper: %s: base url must include a host", cfg.Name)
	}
	return parsed, nil
}
