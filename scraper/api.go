package scraper

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/extractor"
	"github.com/aluiziolira/go-auction-ingest/metrics"
	"github.com/aluiziolira/go-auction-ingest/models"
)

const maxAPIBody = 16 << 20

// Result codes that mean success on public data portals.
var okResultCodes = map[string]bool{"": true, "0": true, "00": true, "000": true, "0000": true, "INFO-000": true}

// Result codes that report an empty result set (NODATA_ERROR and the like).
var noDataResultCodes = map[string]bool{"03": true, "003": true, "INFO-200": true}

// APIClient requests one page of a structured listing API per cursor.
type APIClient struct {
	cfg        config.SourceConfig
	base       *url.URL
	client     *http.Client
	limiter    *rate.Limiter
	retry      retryPolicy
	metrics    *metrics.Metrics
	credential string
	window     searchWindow
	now        func() time.Time

	seen      int
	exhausted bool
	closed    bool
}

// NewAPIClient builds an API adapter. credential may be empty for open APIs.
func NewAPIClient(cfg config.SourceConfig, credential string, o options) (*APIClient, error) {
	base, err := parseBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	transport := o.transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &APIClient{
		cfg:        cfg,
		base:       base,
		client:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      newRetryPolicy(cfg, o.metrics),
		metrics:    o.metrics,
		credential: credential,
		window:     newSearchWindow(o.target, o.now, cfg.WindowDays),
		now:        o.now,
	}, nil
}

// Name returns the configured source name.
func (a *APIClient) Name() string { return a.cfg.Name }

func (a *APIClient) contentType() models.ContentType {
	if a.cfg.Format == "xml" {
		return models.ContentXML
	}
	return models.ContentJSON
}

// Fetch requests the page for cursor. An empty item list is returned as a
// document, not an error, and ends the stream.
func (a *APIClient) Fetch(ctx context.Context, cursor int) (*models.RawDocument, error) {
	if a.closed {
		return nil, ErrSourceClosed
	}
	if a.exhausted {
		return nil, ErrEndOfStream
	}

	values := pageValues(a.cfg, cursor, a.window)
	if a.cfg.CredentialParam != "" && a.credential != "" {
		values.Set(a.cfg.CredentialParam, a.credential)
	}
	target, form := requestTarget(a.base, a.cfg.Method, values)

	start := time.Now()
	var body []byte
	err := a.retry.do(ctx, func(int) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter wait")
		}
		var err error
		body, err = a.request(ctx, target, form)
		return err
	})
	a.metrics.ObserveFetch(a.cfg.Name, time.Since(start))
	if err != nil {
		a.metrics.IncFetch(a.cfg.Name, "error")
		return nil, eris.Wrapf(err, "api: %s: page %d", a.cfg.Name, cursor)
	}

	body = a.decode(body)
	noData, err := a.checkResult(body)
	if err != nil {
		a.metrics.IncFetch(a.cfg.Name, "error")
		return nil, eris.Wrapf(err, "api: %s: page %d", a.cfg.Name, cursor)
	}

	doc := &models.RawDocument{
		SourceSite:  a.cfg.Name,
		FetchedAt:   a.now(),
		OriginURL:   redact(target, a.cfg.CredentialParam),
		PageIndex:   cursor,
		ContentType: a.contentType(),
		Content:     body,
	}

	items := 0
	if !noData {
		items = a.countItems(doc)
	}
	a.seen += items
	total, hasTotal := a.peekTotal(body)
	switch {
	case items == 0:
		a.exhausted = true
		a.metrics.IncFetch(a.cfg.Name, "empty")
	case hasTotal && a.seen >= total:
		a.exhausted = true
		a.metrics.IncFetch(a.cfg.Name, "ok")
	default:
		a.metrics.IncFetch(a.cfg.Name, "ok")
	}

	zap.L().Debug("api page fetched",
		zap.String("source", a.cfg.Name),
		zap.Int("page", cursor),
		zap.Int("items", items),
		zap.Int("seen", a.seen),
		zap.Int("total", total),
	)
	return doc, nil
}

func (a *APIClient) request(ctx context.Context, target, form string) ([]byte, error) {
	var reqBody io.Reader
	if a.cfg.Method == http.MethodPost {
		reqBody = strings.NewReader(form)
	}
	req, err := http.NewRequestWithContext(ctx, a.cfg.Method, target, reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	if a.cfg.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if a.cfg.Format == "xml" {
		req.Header.Set("Accept", "application/xml, text/xml")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyError(nil, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, classifyError(eris.Wrap(err, "read body"), 0)
	}
	return body, nil
}

// decode converts legacy-encoded JSON bodies to UTF-8. XML bodies are left
// alone because the XML parser honours the declared encoding.
func (a *APIClient) decode(body []byte) []byte {
	if a.cfg.Format == "xml" {
		return body
	}
	return decodeCharset(body, a.cfg.Charset)
}

// checkResult rejects payloads whose header carries a failure result code.
// A no-data code is reported as noData, not as an error.
func (a *APIClient) checkResult(body []byte) (noData bool, err error) {
	var code, msg string
	if a.cfg.Format == "xml" {
		doc, err := xmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return false, eris.Wrap(err, "parse xml payload")
		}
		if n := xmlquery.FindOne(doc, "//header/resultCode"); n != nil {
			code = strings.TrimSpace(n.InnerText())
		}
		if n := xmlquery.FindOne(doc, "//header/resultMsg"); n != nil {
			msg = strings.TrimSpace(n.InnerText())
		}
	} else {
		if !gjson.ValidBytes(body) {
			return false, eris.New("invalid json payload")
		}
		code = gjson.GetBytes(body, "response.header.resultCode").String()
		msg = gjson.GetBytes(body, "response.header.resultMsg").String()
	}
	switch {
	case okResultCodes[code]:
		return false, nil
	case noDataResultCodes[code]:
		zap.L().Debug("api reported no data",
			zap.String("source", a.cfg.Name),
			zap.String("code", code),
			zap.String("message", msg),
		)
		return true, nil
	}
	return false, ErrAPIResult{Code: code, Message: msg}
}

func (a *APIClient) countItems(doc *models.RawDocument) int {
	if a.cfg.Format == "xml" {
		return extractor.CountItems(doc, nil, a.cfg.ItemPaths)
	}
	return extractor.CountItems(doc, a.cfg.ItemPaths, nil)
}

// peekTotal reads the reported total item count, if the payload has one.
func (a *APIClient) peekTotal(body []byte) (int, bool) {
	if a.cfg.TotalPath == "" {
		return 0, false
	}
	if a.cfg.Format == "xml" {
		doc, err := xmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return 0, false
		}
		n := xmlquery.FindOne(doc, a.cfg.TotalPath)
		if n == nil {
			return 0, false
		}
		total, err := strconv.Atoi(strings.TrimSpace(n.InnerText()))
		if err != nil {
			return 0, false
		}
		return total, true
	}
	res := gjson.GetBytes(body, a.cfg.TotalPath)
	if !res.Exists() {
		return 0, false
	}
	return int(res.Int()), true
}

// Close drops idle connections.
func (a *APIClient) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.client.CloseIdleConnections()
	return nil
}

// decodeCharset converts body from the named legacy charset to UTF-8. Unknown
// charsets and decode failures leave the body untouched.
func decodeCharset(body []byte, charset string) []byte {
	charset = strings.TrimSpace(strings.ToLower(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return body
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		zap.L().Warn("unknown charset, using raw bytes", zap.String("charset", charset), zap.Error(err))
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		zap.L().Warn("charset decode failed, using raw bytes", zap.String("charset", charset), zap.Error(err))
		return body
	}
	return decoded
}

// redact blanks the credential parameter in a request URL.
func redact(target, param string) string {
	if param == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Has(param) {
		q.Set(param, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
