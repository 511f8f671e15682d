package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/extractor"
	"github.com/aluiziolira/go-auction-ingest/models"
	"github.com/aluiziolira/go-auction-ingest/parser"
)

const courtURL = "http://court.test/list"

var targetDate = time.Date(2024, 12, 1, 9, 0, 0, 0, parser.KST)

func crawlerConfig() config.SourceConfig {
	return config.SourceConfig{
		Name:            "court",
		Kind:            config.KindCrawler,
		BaseURL:         courtURL,
		Method:          http.MethodPost,
		PageParam:       "page",
		PageSizeParam:   "size",
		PageSize:        20,
		FirstPage:       1,
		DateFromParam:   "from",
		DateToParam:     "to",
		DateFormat:      "2006-01-02",
		WindowDays:      14,
		Selectors:       []string{"#missing tr", "table.list tbody tr"},
		NextSelector:    "a.next",
		EmptySelector:   "p.no-data",
		UserAgent:       "ingest-test",
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 2 * time.Millisecond,
	}
}

func newTestCrawler(t *testing.T, cfg config.SourceConfig, transport http.RoundTripper) *Crawler {
	t.Helper()
	src, err := New(cfg, WithTransport(transport), WithTargetDate(targetDate))
	require.NoError(t, err)
	c, ok := src.(*Crawler)
	require.True(t, ok, "crawler kind should build a *Crawler")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func htmlResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return resp
}

func buildListingPage(page int, rows int, hasNext bool) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><table class="list"><thead><tr><th>사건번호</th><th>법원</th></tr></thead><tbody>`)
	for i := 1; i <= rows; i++ {
		id := page*100 + i
		fmt.Fprintf(&builder, "<tr><td>2024타경%d</td><td>서울중앙지방법원</td><td>아파트</td><td>서울특별시 강남구 역삼동 %d</td><td>850,000,000원</td><td>595,000,000원</td><td>2024.12.15</td></tr>", id, id)
	}
	builder.WriteString("</tbody></table>")
	if hasNext {
		fmt.Fprintf(&builder, `<div class="paging"><a class="next" href="#">%d</a></div>`, page+1)
	}
	builder.WriteString("</body></html>")
	return builder.String()
}

func TestRetryPolicyBackoffCapped(t *testing.T) {
	p := retryPolicy{base: 200 * time.Millisecond, max: 500 * time.Millisecond}

	if got := p.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff = %v, want 200ms", got)
	}
	if got := p.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("second backoff = %v, want 400ms", got)
	}
	if got := p.backoff(4); got > p.max {
		t.Fatalf("delay %v exceeds max %v", got, p.max)
	}
}

func TestRetryPolicyDo(t *testing.T) {
	transient := ErrServer{Err: errors.New("bad gateway"), StatusCode: http.StatusBadGateway}
	fatal := ErrNotFound{Err: errors.New("gone")}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", errs: []error{nil}, wantCalls: 1},
		{name: "recovers", errs: []error{transient, transient, nil}, wantCalls: 3},
		{name: "budget spent", errs: []error{transient, transient, transient, nil}, wantCalls: 3, wantErr: true},
		{name: "fatal stops", errs: []error{fatal, nil}, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := retryPolicy{source: "test", maxAttempts: 3, base: time.Millisecond, max: time.Millisecond}
			calls := 0
			err := p.do(context.Background(), func(int) error {
				e := tt.errs[calls]
				calls++
				return e
			})
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retryPolicy{maxAttempts: 5, base: time.Hour, max: time.Hour}
	calls := 0
	err := p.do(ctx, func(int) error {
		calls++
		cancel()
		return ErrTimeout{Err: context.DeadlineExceeded}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "unauthorized", err: nil, statusCode: http.StatusUnauthorized, expected: "forbidden"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: errors.New("Service Unavailable"), statusCode: http.StatusServiceUnavailable, expected: "server_error"},
		{name: "request timeout", err: nil, statusCode: http.StatusRequestTimeout, expected: "server_error"},
		{name: "bad request", err: nil, statusCode: http.StatusBadRequest, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTimeout{Err: context.DeadlineExceeded}))
	assert.True(t, IsTransient(ErrRateLimited{Err: errors.New("slow down")}))
	assert.True(t, IsTransient(ErrServer{Err: errors.New("boom"), StatusCode: 502}))
	assert.False(t, IsTransient(ErrForbidden{Err: errors.New("no")}))
	assert.False(t, IsTransient(ErrAPIResult{Code: "30", Message: "SERVICE KEY IS NOT REGISTERED"}))
	assert.False(t, IsTransient(nil))
}

func TestCrawlerHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		expected  string
		wantCalls int
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited", wantCalls: 3},
		{status: http.StatusForbidden, expected: "forbidden", wantCalls: 1},
		{status: http.StatusNotFound, expected: "not_found", wantCalls: 1},
		{status: http.StatusBadGateway, expected: "server_error", wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			calls := 0
			transport.RegisterResponder(http.MethodPost, courtURL, func(*http.Request) (*http.Response, error) {
				calls++
				return htmlResponse(tt.status, ""), nil
			})

			c := newTestCrawler(t, crawlerConfig(), transport)
			_, err := c.Fetch(context.Background(), 0)
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err %v)", got, tt.expected, err)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestCrawler_Pagination(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var forms []map[string]string
	transport.RegisterResponder(http.MethodPost, courtURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		forms = append(forms, map[string]string{
			"page": req.PostForm.Get("page"),
			"size": req.PostForm.Get("size"),
			"from": req.PostForm.Get("from"),
			"to":   req.PostForm.Get("to"),
		})
		switch req.PostForm.Get("page") {
		case "1":
			return htmlResponse(http.StatusOK, buildListingPage(1, 3, true)), nil
		case "2":
			return htmlResponse(http.StatusOK, buildListingPage(2, 2, false)), nil
		}
		return htmlResponse(http.StatusNotFound, ""), nil
	})

	c := newTestCrawler(t, crawlerConfig(), transport)
	ex := extractor.New(extractor.WithSelectors(c.cfg.Selectors...))

	doc, err := c.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.ContentHTML, doc.ContentType)
	assert.False(t, doc.LayoutMismatch)
	assert.Equal(t, 0, doc.PageIndex)
	assert.Equal(t, "court", doc.SourceSite)
	assert.Len(t, ex.Extract(doc).Candidates, 3)

	doc, err = c.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, ex.Extract(doc).Candidates, 2)

	_, err = c.Fetch(context.Background(), 2)
	assert.ErrorIs(t, err, ErrEndOfStream)

	require.Len(t, forms, 2)
	assert.Equal(t, map[string]string{"page": "1", "size": "20", "from": "2024-12-01", "to": "2024-12-15"}, forms[0])
	assert.Equal(t, "2", forms[1]["page"])
}

func TestCrawler_GetQuery(t *testing.T) {
	cfg := crawlerConfig()
	cfg.Method = http.MethodGet
	cfg.Params = map[string]string{"court": "all"}

	transport := httpmock.NewMockTransport()
	var query string
	transport.RegisterResponder(http.MethodGet, courtURL, func(req *http.Request) (*http.Response, error) {
		query = req.URL.RawQuery
		return htmlResponse(http.StatusOK, buildListingPage(1, 1, false)), nil
	})

	c := newTestCrawler(t, cfg, transport)
	doc, err := c.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, query, "court=all")
	assert.Contains(t, query, "page=1")
	assert.True(t, strings.HasPrefix(doc.OriginURL, courtURL+"?"))
}

func TestCrawler_LayoutMismatch(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		mismatch bool
	}{
		{name: "unknown markup", body: `<html><body><div class="renewed"><span>2024타경1</span></div></body></html>`, mismatch: true},
		{name: "explicit empty result", body: `<html><body><p class="no-data">검색결과가 없습니다</p></body></html>`, mismatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodPost, courtURL, httpmock.ResponderFromResponse(htmlResponse(http.StatusOK, tt.body)))

			c := newTestCrawler(t, crawlerConfig(), transport)
			doc, err := c.Fetch(context.Background(), 0)
			require.NoError(t, err)
			assert.Equal(t, tt.mismatch, doc.LayoutMismatch)
			assert.Empty(t, extractor.New().Extract(doc).Candidates)

			_, err = c.Fetch(context.Background(), 1)
			assert.ErrorIs(t, err, ErrEndOfStream)
		})
	}
}

func TestCrawler_RetriesTransientStatus(t *testing.T) {
	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder(http.MethodPost, courtURL, func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return htmlResponse(http.StatusServiceUnavailable, "busy"), nil
		}
		return htmlResponse(http.StatusOK, buildListingPage(1, 1, false)), nil
	})

	c := newTestCrawler(t, crawlerConfig(), transport)
	doc, err := c.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, string(doc.Content), "2024타경101")
}

func TestCrawler_ForcedCharset(t *testing.T) {
	page := buildListingPage(1, 1, false)
	encoded, err := korean.EUCKR.NewEncoder().String(page)
	require.NoError(t, err)

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, courtURL, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, encoded)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	cfg := crawlerConfig()
	cfg.Charset = "euc-kr"
	c := newTestCrawler(t, cfg, transport)

	doc, err := c.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Content), "서울중앙지방법원")
}

func TestCrawler_Close(t *testing.T) {
	c := newTestCrawler(t, crawlerConfig(), httpmock.NewMockTransport())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestPageValuesAndTarget(t *testing.T) {
	cfg := crawlerConfig()
	cfg.Params = map[string]string{"kind": "realestate"}
	w := newSearchWindow(time.Time{}, func() time.Time { return targetDate }, 7)

	values := pageValues(cfg, 4, w)
	assert.Equal(t, "5", values.Get("page"))
	assert.Equal(t, "2024-12-01", values.Get("from"))
	assert.Equal(t, "2024-12-08", values.Get("to"))
	assert.Equal(t, "realestate", values.Get("kind"))

	base, err := parseBaseURL(config.SourceConfig{Name: "x", BaseURL: "http://api.test/items?_type=json"})
	require.NoError(t, err)

	target, form := requestTarget(base, http.MethodGet, values)
	assert.Empty(t, form)
	assert.Contains(t, target, "_type=json")
	assert.Contains(t, target, "page=5")

	target, form = requestTarget(base, http.MethodPost, values)
	assert.Equal(t, "http://api.test/items?_type=json", target)
	assert.Contains(t, form, "kind=realestate")

	_, err = parseBaseURL(config.SourceConfig{Name: "x", BaseURL: "/relative"})
	assert.Error(t, err)
}
