package scraper

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/metrics"
	"github.com/aluiziolira/go-auction-ingest/models"
)

const (
	ctxBody   = "body"
	ctxStatus = "status"
	ctxURL    = "final_url"
	ctxStart  = "start"
)

// Crawler renders listing pages of a court auction site with a colly
// collector. Each Fetch submits the search form (or GET query) for one page
// index and returns the page markup.
type Crawler struct {
	cfg       config.SourceConfig
	base      *url.URL
	collector *colly.Collector
	transport http.RoundTripper
	retry     retryPolicy
	metrics   *metrics.Metrics
	window    searchWindow
	now       func() time.Time

	exhausted bool
}

// NewCrawler builds a crawler session for cfg.
func NewCrawler(cfg config.SourceConfig, o options) (*Crawler, error) {
	base, err := parseBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: cookie jar")
	}
	collector.SetCookieJar(jar)

	transport := o.transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	c := &Crawler{
		cfg:       cfg,
		base:      base,
		collector: collector,
		transport: transport,
		retry:     newRetryPolicy(cfg, o.metrics),
		metrics:   o.metrics,
		window:    newSearchWindow(o.target, o.now, cfg.WindowDays),
		now:       o.now,
	}
	c.configureHandlers()
	return c, nil
}

func (c *Crawler) configureHandlers() {
	c.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		if c.cfg.Charset != "" {
			r.ResponseCharacterEncoding = c.cfg.Charset
		}
	})

	c.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxBody, r.Body)
		r.Ctx.Put(ctxURL, r.Request.URL.String())
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			c.metrics.ObserveFetch(c.cfg.Name, time.Since(start))
		}
	})

	c.collector.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
		target := ""
		if r.Request != nil && r.Request.URL != nil {
			target = r.Request.URL.String()
		}
		zap.L().Debug("crawler request error",
			zap.String("source", c.cfg.Name),
			zap.String("url", target),
			zap.Int("status", r.StatusCode),
			zap.Error(err),
		)
	})
}

// Name returns the configured source name.
func (c *Crawler) Name() string { return c.cfg.Name }

// Fetch renders the page for cursor. A page whose markup matches none of
// the container selectors comes back with LayoutMismatch set.
func (c *Crawler) Fetch(ctx context.Context, cursor int) (*models.RawDocument, error) {
	if c.collector == nil {
		return nil, ErrSourceClosed
	}
	if c.exhausted {
		return nil, ErrEndOfStream
	}

	target, form := requestTarget(c.base, c.cfg.Method, pageValues(c.cfg, cursor, c.window))

	var body []byte
	var finalURL string
	err := c.retry.do(ctx, func(int) error {
		var err error
		body, finalURL, err = c.visit(target, form)
		return err
	})
	if err != nil {
		c.metrics.IncFetch(c.cfg.Name, "error")
		return nil, eris.Wrapf(err, "crawler: %s: page %d", c.cfg.Name, cursor)
	}
	if finalURL == "" {
		finalURL = target
	}

	doc := &models.RawDocument{
		SourceSite:  c.cfg.Name,
		FetchedAt:   c.now(),
		OriginURL:   finalURL,
		PageIndex:   cursor,
		ContentType: models.ContentHTML,
		Content:     body,
	}
	rows := c.inspect(doc)
	if rows == 0 {
		c.metrics.IncFetch(c.cfg.Name, "empty")
	} else {
		c.metrics.IncFetch(c.cfg.Name, "ok")
	}
	return doc, nil
}

func (c *Crawler) visit(target, form string) ([]byte, string, error) {
	cctx := colly.NewContext()
	hdr := http.Header{"User-Agent": []string{c.cfg.UserAgent}}

	var reqBody io.Reader
	if c.cfg.Method == http.MethodPost {
		reqBody = strings.NewReader(form)
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	err := c.collector.Request(c.cfg.Method, target, reqBody, cctx, hdr)
	if err != nil {
		status, _ := cctx.GetAny(ctxStatus).(int)
		return nil, "", classifyError(err, status)
	}
	body, _ := cctx.GetAny(ctxBody).([]byte)
	finalURL, _ := cctx.GetAny(ctxURL).(string)
	return body, finalURL, nil
}

// inspect applies the ordered container selectors and pagination rules to
// a fetched page and returns the number of listing rows it holds. The
// stream ends after an empty page or a page without a next link.
func (c *Crawler) inspect(doc *models.RawDocument) int {
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Content))
	if err != nil {
		doc.LayoutMismatch = true
		c.exhausted = true
		return 0
	}

	rows := -1
	for _, sel := range c.cfg.Selectors {
		if n := parsed.Find(sel).Length(); n > 0 {
			rows = n
			break
		}
	}
	if rows < 0 {
		rows = 0
		if c.cfg.EmptySelector == "" || parsed.Find(c.cfg.EmptySelector).Length() == 0 {
			doc.LayoutMismatch = true
			zap.L().Warn("crawler layout mismatch",
				zap.String("source", c.cfg.Name),
				zap.Int("page", doc.PageIndex),
				zap.Strings("selectors", c.cfg.Selectors),
			)
		}
	}

	if rows == 0 {
		c.exhausted = true
	}
	if c.cfg.NextSelector != "" && parsed.Find(c.cfg.NextSelector).Length() == 0 {
		c.exhausted = true
	}
	return rows
}

// Close releases the collector and its cookie session.
func (c *Crawler) Close() error {
	if c.collector == nil {
		return nil
	}
	c.collector.SetCookieJar(nil)
	if t, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	c.collector = nil
	return nil
}
