package extractor

import (
	"github.com/PuerkitoBio/goquery"
)

// RowLocator finds listing rows in an HTML document. Locators are tried in
// order and the first one returning rows wins.
type RowLocator interface {
	Name() string
	Locate(doc *goquery.Document) []Row
}

// SelectorLocator returns the elements matched by the first selector that
// matches anything.
type SelectorLocator struct {
	Selectors []string
}

func (l SelectorLocator) Name() string { return "selector" }

func (l SelectorLocator) Locate(doc *goquery.Document) []Row {
	for _, sel := range l.Selectors {
		if sel == "" {
			continue
		}
		found := doc.Find(sel)
		if found.Length() == 0 {
			continue
		}
		rows := make([]Row, 0, found.Length())
		found.Each(func(_ int, s *goquery.Selection) {
			if row, ok := rowFromSelection(s); ok {
				rows = append(rows, row)
			}
		})
		if len(rows) > 0 {
			return rows
		}
	}
	return nil
}

// FirstTableLocator returns the data rows of the first table that has at
// least MinRows of them. A data row has two or more td cells.
type FirstTableLocator struct {
	MinRows int
}

func (l FirstTableLocator) Name() string { return "first-table" }

func (l FirstTableLocator) Locate(doc *goquery.Document) []Row {
	minRows := l.MinRows
	if minRows <= 0 {
		minRows = 2
	}
	var rows []Row
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		trs := table.ChildrenFiltered("tbody, thead, tfoot").ChildrenFiltered("tr").
			AddSelection(table.ChildrenFiltered("tr"))
		var data []Row
		trs.Each(func(_ int, tr *goquery.Selection) {
			if tr.ChildrenFiltered("td").Length() < 2 {
				return
			}
			if row, ok := rowFromSelection(tr); ok {
				data = append(data, row)
			}
		})
		if len(data) >= minRows {
			rows = data
			return false
		}
		return true
	})
	return rows
}

// CaseNumberLocator returns the innermost row-like elements whose text
// contains a case number.
type CaseNumberLocator struct{}

func (CaseNumberLocator) Name() string { return "case-number" }

const rowLikeElements = "tr, li, dl, article, div"

func (CaseNumberLocator) Locate(doc *goquery.Document) []Row {
	var rows []Row
	doc.Find(rowLikeElements).Each(func(_ int, s *goquery.Selection) {
		if !caseNumberShape.MatchString(s.Text()) {
			return
		}
		nested := s.Find(rowLikeElements).FilterFunction(func(_ int, d *goquery.Selection) bool {
			return caseNumberShape.MatchString(d.Text())
		})
		if nested.Length() > 0 {
			return
		}
		if row, ok := rowFromSelection(s); ok {
			rows = append(rows, row)
		}
	})
	return rows
}

// DefaultLocators returns the locator chain; configured selectors go first.
func DefaultLocators(selectors ...string) []RowLocator {
	locators := make([]RowLocator, 0, 3)
	if len(selectors) > 0 {
		locators = append(locators, SelectorLocator{Selectors: selectors})
	}
	return append(locators, FirstTableLocator{MinRows: 2}, CaseNumberLocator{})
}

func rowFromSelection(s *goquery.Selection) (Row, bool) {
	cellSel := s.ChildrenFiltered("td, th")
	if cellSel.Length() == 0 {
		cellSel = s.Children()
	}
	var cells []string
	if cellSel.Length() == 0 {
		cells = []string{s.Text()}
	} else {
		cellSel.Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, c.Text())
		})
	}
	row := NewRow(cells)
	if row.Text == "" {
		return Row{}, false
	}
	if href, ok := s.Find("a[href]").First().Attr("href"); ok {
		row.Link = href
	}
	return row, true
}
