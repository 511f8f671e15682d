package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-auction-ingest/config"
	"github.com/aluiziolira/go-auction-ingest/extractor"
	"github.com/aluiziolira/go-auction-ingest/models"
)

const apiURL = "http://api.test/auction/items"

func apiConfig() config.SourceConfig {
	return config.SourceConfig{
		Name:            "publicdata",
		Kind:            config.KindAPI,
		BaseURL:         apiURL,
		Method:          http.MethodGet,
		Format:          "json",
		PageParam:       "pageNo",
		PageSizeParam:   "numOfRows",
		PageSize:        2,
		FirstPage:       1,
		CredentialEnv:   "TEST_AUCTION_KEY",
		CredentialParam: "serviceKey",
		TotalPath:       "response.body.totalCount",
		UserAgent:       "ingest-test",
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 2 * time.Millisecond,
	}
}

func withKey(key string) Option {
	return WithLookupEnv(func(name string) (string, bool) {
		if name == "TEST_AUCTION_KEY" && key != "" {
			return key, true
		}
		return "", false
	})
}

func newTestAPI(t *testing.T, cfg config.SourceConfig, transport http.RoundTripper) *APIClient {
	t.Helper()
	src, err := New(cfg, WithTransport(transport), withKey("secret-key"), WithTargetDate(targetDate))
	require.NoError(t, err)
	client, ok := src.(*APIClient)
	require.True(t, ok, "api kind with a credential should build an *APIClient")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func jsonPage(code string, total int, caseNumbers ...string) string {
	items := make([]string, 0, len(caseNumbers))
	for _, cn := range caseNumbers {
		items = append(items, fmt.Sprintf(`{"caseNo":%q,"courtName":"수원지방법원","address":"경기도 수원시 영통구 매탄동 123","gamevalAmt":"420000000","minmaePrice":"294000000","maeGiil":"20241210"}`, cn))
	}
	itemsJSON := `""`
	if len(items) > 0 {
		itemsJSON = `{"item":[` + strings.Join(items, ",") + `]}`
	}
	return fmt.Sprintf(`{"response":{"header":{"resultCode":%q,"resultMsg":"NORMAL SERVICE."},"body":{"items":%s,"numOfRows":2,"pageNo":1,"totalCount":%d}}}`, code, itemsJSON, total)
}

func jsonResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json;charset=UTF-8")
	return resp
}

func TestAPIClient_PaginatesUntilTotal(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var keys, pages []string
	transport.RegisterResponder(http.MethodGet, apiURL, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		keys = append(keys, q.Get("serviceKey"))
		pages = append(pages, q.Get("pageNo"))
		switch q.Get("pageNo") {
		case "1":
			return jsonResponse(http.StatusOK, jsonPage("00", 3, "2024타경1001", "2024타경1002")), nil
		case "2":
			return jsonResponse(http.StatusOK, jsonPage("00", 3, "2024타경1003")), nil
		}
		return jsonResponse(http.StatusOK, jsonPage("00", 3)), nil
	})

	client := newTestAPI(t, apiConfig(), transport)
	ex := extractor.New()

	doc, err := client.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.ContentJSON, doc.ContentType)
	assert.Contains(t, doc.OriginURL, "serviceKey=REDACTED")
	assert.NotContains(t, doc.OriginURL, "secret-key")
	assert.Len(t, ex.Extract(doc).Candidates, 2)

	doc, err = client.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, ex.Extract(doc).Candidates, 1)

	_, err = client.Fetch(context.Background(), 2)
	assert.ErrorIs(t, err, ErrEndOfStream)

	assert.Equal(t, []string{"secret-key", "secret-key"}, keys)
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestAPIClient_EmptyPageEndsStream(t *testing.T) {
	cfg := apiConfig()
	cfg.TotalPath = ""

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, apiURL, httpmock.NewStringResponder(http.StatusOK, jsonPage("00", 0)))

	client := newTestAPI(t, cfg, transport)
	doc, err := client.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, extractor.New().Extract(doc).Candidates)

	_, err = client.Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestAPIClient_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int
		transient bool
	}{
		{name: "bad request is fatal", status: http.StatusBadRequest, wantCalls: 1},
		{name: "unauthorized is fatal", status: http.StatusUnauthorized, wantCalls: 1},
		{name: "server error retried", status: http.StatusInternalServerError, wantCalls: 3, transient: true},
		{name: "rate limited retried", status: http.StatusTooManyRequests, wantCalls: 3, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, apiURL, httpmock.NewStringResponder(tt.status, "{}"))

			client := newTestAPI(t, apiConfig(), transport)
			_, err := client.Fetch(context.Background(), 0)
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.wantCalls, transport.GetTotalCallCount())
		})
	}
}

func TestAPIClient_RecoversAfterServerError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder(http.MethodGet, apiURL, func(*http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return jsonResponse(http.StatusBadGateway, ""), nil
		}
		return jsonResponse(http.StatusOK, jsonPage("00", 1, "2024타경77")), nil
	})

	client := newTestAPI(t, apiConfig(), transport)
	doc, err := client.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, string(doc.Content), "2024타경77")
}

func TestAPIClient_ResultCodeFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, apiURL,
		httpmock.NewStringResponder(http.StatusOK, jsonPage("30", 0)))

	client := newTestAPI(t, apiConfig(), transport)
	_, err := client.Fetch(context.Background(), 0)
	require.Error(t, err)

	var result ErrAPIResult
	require.True(t, errors.As(err, &result), "want ErrAPIResult, got %v", err)
	assert.Equal(t, "30", result.Code)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, transport.GetTotalCallCount())

	t.Run("no data is an empty page", func(t *testing.T) {
		for _, code := range []string{"03", "INFO-200"} {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, apiURL,
				httpmock.NewStringResponder(http.StatusOK, jsonPage(code, 0)))

			client := newTestAPI(t, apiConfig(), transport)
			doc, err := client.Fetch(context.Background(), 0)
			require.NoError(t, err, "code %s", code)
			require.NotNil(t, doc)
			assert.Equal(t, 0, doc.PageIndex)

			_, err = client.Fetch(context.Background(), 1)
			assert.True(t, errors.Is(err, ErrEndOfStream), "code %s: got %v", code, err)
			assert.Equal(t, 1, transport.GetTotalCallCount())
		}
	})
}

func TestAPIClient_InvalidJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, apiURL, httpmock.NewStringResponder(http.StatusOK, "<html>maintenance</html>"))

	client := newTestAPI(t, apiConfig(), transport)
	_, err := client.Fetch(context.Background(), 0)
	assert.Error(t, err)
}

func TestAPIClient_XMLPayload(t *testing.T) {
	cfg := apiConfig()
	cfg.Format = "xml"
	cfg.TotalPath = "//body/totalCount"

	const payload = `<?xml version="1.0" encoding="UTF-8"?>
<response>
  <header><resultCode>00</resultCode><resultMsg>NORMAL SERVICE.</resultMsg></header>
  <body>
    <items>
      <item><caseNo>2024타경3001</caseNo><address>부산광역시 해운대구 우동 1408</address><gamevalAmt>610000000</gamevalAmt></item>
      <item><caseNo>2024타경3002</caseNo><address>부산광역시 수영구 광안동 200</address><gamevalAmt>380000000</gamevalAmt></item>
    </items>
    <totalCount>2</totalCount>
  </body>
</response>`

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, apiURL, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, payload)
		resp.Header.Set("Content-Type", "application/xml")
		return resp, nil
	})

	client := newTestAPI(t, cfg, transport)
	doc, err := client.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.ContentXML, doc.ContentType)

	result := extractor.New().Extract(doc)
	assert.Len(t, result.Candidates, 2)

	_, err = client.Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestAPIClient_Close(t *testing.T) {
	client := newTestAPI(t, apiConfig(), httpmock.NewMockTransport())
	require.NoError(t, client.Close())
	_, err := client.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestNew_DegradedWithoutCredential(t *testing.T) {
	transport := httpmock.NewMockTransport()
	src, err := New(apiConfig(), WithTransport(transport), withKey(""))
	require.NoError(t, err)

	degraded, ok := src.(*DegradedSource)
	require.True(t, ok, "missing credential should yield *DegradedSource, got %T", src)
	assert.True(t, degraded.Degraded())
	assert.Equal(t, "publicdata", src.Name())

	doc, err := src.Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, models.ContentJSON, doc.ContentType)

	candidates := extractor.New().Extract(doc).Candidates
	require.Len(t, candidates, 3)
	assert.Equal(t, "2024타경100201", candidates[0].Get(models.FieldCaseNumber))

	_, err = src.Fetch(context.Background(), 1)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Zero(t, transport.GetTotalCallCount())

	require.NoError(t, src.Close())
	_, err = src.Fetch(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(config.SourceConfig{Name: "odd", Kind: "ftp"})
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name   string
		target string
		param  string
		want   string
	}{
		{name: "no param", target: "http://x.test/a?serviceKey=abc", param: "", want: "http://x.test/a?serviceKey=abc"},
		{name: "present", target: "http://x.test/a?pageNo=1&serviceKey=abc", param: "serviceKey", want: "http://x.test/a?pageNo=1&serviceKey=REDACTED"},
		{name: "absent", target: "http://x.test/a?pageNo=1", param: "serviceKey", want: "http://x.test/a?pageNo=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact(tt.target, tt.param); got != tt.want {
				t.Fatalf("redact() = %q, want %q", got, tt.want)
			}
		})
	}
}
