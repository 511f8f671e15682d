// Package extractor turns raw documents into field-candidate bundles, one per
// listing row.
package extractor

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// DefaultMinAddressLength is the rune count an address needs to keep a row
// that has no case number.
const DefaultMinAddressLength = 10

// Result is the outcome of extracting one document.
type Result struct {
	// Strategy names the row locator that produced the rows, or "" when
	// nothing matched.
	Strategy   string
	Candidates []*models.Candidate
	Rows       int
	Discarded  int
}

// Extractor applies row locators and a field rule table to raw documents.
type Extractor struct {
	locators         []RowLocator
	rules            RuleTable
	jsonPaths        []string
	xmlPaths         []string
	delimiter        string
	minAddressLength int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSelectors puts CSS selectors for listing rows ahead of the built-in locators.
func WithSelectors(selectors ...string) Option {
	return func(e *Extractor) {
		e.locators = DefaultLocators(selectors...)
	}
}

// WithLocators replaces the locator chain.
func WithLocators(locators ...RowLocator) Option {
	return func(e *Extractor) {
		e.locators = locators
	}
}

// WithRules replaces the rule table.
func WithRules(rules RuleTable) Option {
	return func(e *Extractor) {
		e.rules = rules
	}
}

// WithColumns overrides column positions of the current rule table.
func WithColumns(columns map[models.Field]int) Option {
	return func(e *Extractor) {
		if len(columns) > 0 {
			e.rules = e.rules.WithColumns(columns)
		}
	}
}

// WithItemPaths prepends payload item paths (gjson paths for JSON, XPath
// for XML) to the defaults.
func WithItemPaths(jsonPaths, xmlPaths []string) Option {
	return func(e *Extractor) {
		e.jsonPaths = append(append([]string{}, jsonPaths...), DefaultJSONItemPaths...)
		e.xmlPaths = append(append([]string{}, xmlPaths...), DefaultXMLItemPaths...)
	}
}

// WithDelimiter sets the cell delimiter for text documents.
func WithDelimiter(d string) Option {
	return func(e *Extractor) {
		if d != "" {
			e.delimiter = d
		}
	}
}

// WithMinAddressLength sets the address length threshold for row acceptance.
func WithMinAddressLength(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.minAddressLength = n
		}
	}
}

// New builds an Extractor with the default locators and rule table.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		locators:         DefaultLocators(),
		rules:            DefaultRules(),
		jsonPaths:        DefaultJSONItemPaths,
		xmlPaths:         DefaultXMLItemPaths,
		delimiter:        "|",
		minAddressLength: DefaultMinAddressLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the candidate bundles in document order. Documents that
// match no strategy yield an empty result.
func (e *Extractor) Extract(doc *models.RawDocument) Result {
	if doc == nil || len(doc.Content) == 0 {
		return Result{}
	}

	var strategy string
	var rows []Row
	switch doc.ContentType {
	case models.ContentJSON:
		strategy, rows = locateJSON(doc.Content, e.jsonPaths)
	case models.ContentXML:
		strategy, rows = locateXML(doc.Content, e.xmlPaths)
	case models.ContentText:
		strategy, rows = "delimited", e.textRows(doc.Content)
	default:
		strategy, rows = e.htmlRows(doc)
	}
	if len(rows) == 0 {
		return Result{}
	}

	result := Result{Strategy: strategy, Rows: len(rows)}
	for i, row := range rows {
		c := e.rules.Apply(row, i, doc.OriginURL)
		if !e.accept(c) {
			result.Discarded++
			continue
		}
		result.Candidates = append(result.Candidates, c)
	}
	return result
}

func (e *Extractor) accept(c *models.Candidate) bool {
	if caseNumberShape.MatchString(c.Get(models.FieldCaseNumber)) {
		return true
	}
	return utf8.RuneCountInString(collapse(c.Get(models.FieldAddress))) >= e.minAddressLength
}

func (e *Extractor) htmlRows(doc *models.RawDocument) (string, []Row) {
	if doc.LayoutMismatch {
		return "", nil
	}
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Content))
	if err != nil {
		zap.L().Debug("extractor: parse html",
			zap.String("source", doc.SourceSite),
			zap.Int("page", doc.PageIndex),
			zap.Error(err),
		)
		return "", nil
	}
	for _, locator := range e.locators {
		if rows := locator.Locate(parsed); len(rows) > 0 {
			for i := range rows {
				rows[i].Link = absoluteLink(doc.OriginURL, rows[i].Link)
			}
			return locator.Name(), rows
		}
	}
	return "", nil
}

func (e *Extractor) textRows(content []byte) []Row {
	var rows []Row
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		sep := e.delimiter
		if !strings.Contains(line, sep) && strings.Contains(line, "\t") {
			sep = "\t"
		}
		rows = append(rows, NewRow(strings.Split(line, sep)))
	}
	return rows
}

// absoluteLink resolves href against the document URL. Script links are dropped.
func absoluteLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
