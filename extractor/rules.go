package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// Row is one listing row located in a document.
type Row struct {
	Cells []string
	// Keys holds named values for structured payloads, keyed in lower case.
	Keys map[string]string
	Text string
	Link string
}

// NewRow builds a row from positional cells.
func NewRow(cells []string) Row {
	clean := make([]string, len(cells))
	for i, c := range cells {
		clean[i] = collapse(c)
	}
	return Row{Cells: clean, Text: strings.Join(nonEmpty(clean), " ")}
}

// Rule extracts a single raw field value from a row.
type Rule interface {
	Name() string
	Apply(Row) (string, bool)
}

// ColumnRule reads a fixed column. Shape, when set, must match the cell.
type ColumnRule struct {
	Index int
	Shape *regexp.Regexp
}

func (r ColumnRule) Name() string { return fmt.Sprintf("column:%d", r.Index) }

func (r ColumnRule) Apply(row Row) (string, bool) {
	if r.Index < 0 || r.Index >= len(row.Cells) {
		return "", false
	}
	cell := row.Cells[r.Index]
	if cell == "" {
		return "", false
	}
	if r.Shape != nil && !r.Shape.MatchString(cell) {
		return "", false
	}
	return cell, true
}

// KeywordRule finds the first cell containing a keyword and returns the text
// after it, or the following cell when the keyword is the whole label.
type KeywordRule struct {
	Keywords []string
}

func (r KeywordRule) Name() string { return "keyword:" + strings.Join(r.Keywords, "|") }

func (r KeywordRule) Apply(row Row) (string, bool) {
	for i, cell := range row.Cells {
		for _, kw := range r.Keywords {
			idx := strings.Index(cell, kw)
			if idx < 0 {
				continue
			}
			rest := strings.TrimLeft(cell[idx+len(kw):], " :：)]")
			if rest != "" {
				return rest, true
			}
			if i+1 < len(row.Cells) && row.Cells[i+1] != "" {
				return row.Cells[i+1], true
			}
		}
	}
	return "", false
}

// CellPatternRule returns the first whole cell matching Pattern and not
// matching Exclude.
type CellPatternRule struct {
	Label   string
	Pattern *regexp.Regexp
	Exclude *regexp.Regexp
}

func (r CellPatternRule) Name() string { return "cell:" + r.Label }

func (r CellPatternRule) Apply(row Row) (string, bool) {
	for _, cell := range row.Cells {
		if cell == "" || !r.Pattern.MatchString(cell) {
			continue
		}
		if r.Exclude == nil || !r.Exclude.MatchString(cell) {
			return cell, true
		}
	}
	return "", false
}

// RegexRule matches over the concatenated row text. The first capture
// group is returned when present.
type RegexRule struct {
	Label   string
	Pattern *regexp.Regexp
}

func (r RegexRule) Name() string { return "regex:" + r.Label }

func (r RegexRule) Apply(row Row) (string, bool) {
	m := r.Pattern.FindStringSubmatch(row.Text)
	if m == nil {
		return "", false
	}
	value := m[0]
	if len(m) > 1 && m[1] != "" {
		value = m[1]
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// KeyRule reads a named value from structured payload rows.
type KeyRule struct {
	Keys []string
}

func (r KeyRule) Name() string { return "key:" + strings.Join(r.Keys, "|") }

func (r KeyRule) Apply(row Row) (string, bool) {
	if len(row.Keys) == 0 {
		return "", false
	}
	for _, k := range r.Keys {
		if v := strings.TrimSpace(row.Keys[strings.ToLower(k)]); v != "" {
			return v, true
		}
	}
	return "", false
}

// RuleTable lists ordered extraction rules per field.
type RuleTable map[models.Field][]Rule

// fieldOrder fixes the evaluation order so strategy reporting is stable.
var fieldOrder = []models.Field{
	models.FieldCaseNumber,
	models.FieldItemNumber,
	models.FieldCourtName,
	models.FieldPropertyType,
	models.FieldAddress,
	models.FieldBuildingName,
	models.FieldLandArea,
	models.FieldBuildingArea,
	models.FieldAppraisalValue,
	models.FieldMinimumSalePrice,
	models.FieldBidDeposit,
	models.FieldAuctionDate,
	models.FieldAuctionTime,
	models.FieldFailureCount,
	models.FieldStatus,
	models.FieldTenantStatus,
	models.FieldNotes,
}

// Apply evaluates every field's rules in order; the first match wins.
func (t RuleTable) Apply(row Row, rowIndex int, sourceURL string) *models.Candidate {
	c := models.NewCandidate(rowIndex, sourceURL)
	if row.Link != "" {
		c.SourceURL = row.Link
	}
	for _, field := range fieldOrder {
		for _, rule := range t[field] {
			if v, ok := rule.Apply(row); ok {
				c.Set(field, v, rule.Name())
				break
			}
		}
	}
	return c
}

// WithColumns returns a copy of t whose column rules follow the given
// positions. Fields not listed keep no column rule.
func (t RuleTable) WithColumns(columns map[models.Field]int) RuleTable {
	out := make(RuleTable, len(t))
	for field, rules := range t {
		kept := make([]Rule, 0, len(rules)+1)
		if idx, ok := columns[field]; ok {
			kept = append(kept, ColumnRule{Index: idx})
		}
		for _, r := range rules {
			if _, isColumn := r.(ColumnRule); isColumn {
				continue
			}
			kept = append(kept, r)
		}
		out[field] = kept
	}
	return out
}

var (
	caseNumberShape = regexp.MustCompile(`\d{4}\s*타\s*경\s*\d+`)
	courtShape      = regexp.MustCompile(`법원|지법|지원`)
	typeShape       = regexp.MustCompile(`아파트|오피스텔|다세대|연립|빌라|다가구|단독|주택|상가|근린|점포|사무실|공장|숙박|토지|대지|임야|농지|전답|기타`)
	regionShape     = regexp.MustCompile(`^(서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충청|충북|충남|전라|전북|전남|경상|경북|경남|제주)`)
	// addressShape needs an administrative unit followed by a lot number so
	// that court names such as 부산지방법원 are not taken for addresses.
	addressShape    = regexp.MustCompile(`^(?:서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충청|충북|충남|전라|전북|전남|경상|경북|경남|제주).*(?:시|군|구|동|읍|면|리|로|길)\s*(?:산\s*)?\d`)
	currencyShape   = regexp.MustCompile(`\d[\d,]*\s*원|\d\s*억|\d\s*만|^\s*\d{1,3}(,\d{3}){2,}\s*$|^\s*\d{6,}\s*$`)
	dateShape       = regexp.MustCompile(`\d{2,4}\s*(?:[-./]|년)\s*\d{1,2}\s*(?:[-./]|월)\s*\d{1,2}`)
	statusShape     = regexp.MustCompile(`^(진행|신건|유찰|낙찰|매각|취하|취소|기각|정지|변경)`)

	addressText   = regexp.MustCompile(`(?:서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충청|충북|충남|전라|전북|전남|경상|경북|경남|제주)\S*(?:\s+[^\s\d][^\s]*){1,3}\s+\d+(?:-\d+)?`)
	amountText    = `[^\d]{0,8}([\d,]+(?:\s*억)?(?:\s*[\d,]+\s*만)?\s*원?)`
	appraisalText = regexp.MustCompile(`감정(?:가|평가액|가격)` + amountText)
	minimumText   = regexp.MustCompile(`최저(?:매각)?(?:가격|가|입찰가)` + amountText)
	depositText   = regexp.MustCompile(`보증금` + amountText)
	dateText      = regexp.MustCompile(`\d{4}\s*[-./]\s*\d{1,2}\s*[-./]\s*\d{1,2}|\d{4}년\s*\d{1,2}월\s*\d{1,2}일`)
	clockText     = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
	failureText   = regexp.MustCompile(`유찰\s*\d+\s*회`)
	itemText      = regexp.MustCompile(`타\s*경\s*\d+\s*\((\d{1,3})\)`)
	landAreaText  = regexp.MustCompile(`(?:대지권|토지)\s*:?\s*([\d.,]+\s*(?:㎡|m²|평))`)
	buildAreaText = regexp.MustCompile(`(?:전용|건물)\s*:?\s*([\d.,]+\s*(?:㎡|m²|평))`)
)

// DefaultRules is the rule table for court auction listings. Column
// positions follow the manual template layout:
// case | court | type | address | appraisal | minimum | date.
func DefaultRules() RuleTable {
	return RuleTable{
		models.FieldCaseNumber: {
			ColumnRule{Index: 0, Shape: caseNumberShape},
			KeyRule{Keys: []string{"caseNo", "saNo", "case_number", "srnSaNo", "사건번호"}},
			KeywordRule{Keywords: []string{"사건번호"}},
			RegexRule{Label: "case_number", Pattern: caseNumberShape},
		},
		models.FieldItemNumber: {
			KeyRule{Keys: []string{"itemNo", "mulNo", "maemulSer", "item_number", "물건번호"}},
			KeywordRule{Keywords: []string{"물건번호"}},
			RegexRule{Label: "item_number", Pattern: itemText},
		},
		models.FieldCourtName: {
			ColumnRule{Index: 1, Shape: courtShape},
			KeyRule{Keys: []string{"courtName", "jiwonNm", "court", "court_name", "법원"}},
			CellPatternRule{Label: "court", Pattern: courtShape},
		},
		models.FieldPropertyType: {
			ColumnRule{Index: 2, Shape: typeShape},
			KeyRule{Keys: []string{"propertyType", "dspslUsgNm", "usage", "property_type", "용도"}},
			KeywordRule{Keywords: []string{"용도", "물건종류"}},
			CellPatternRule{Label: "property_type", Pattern: typeShape},
		},
		models.FieldAddress: {
			ColumnRule{Index: 3, Shape: regionShape},
			KeyRule{Keys: []string{"address", "printSt", "addr", "소재지"}},
			KeywordRule{Keywords: []string{"소재지", "주소"}},
			CellPatternRule{Label: "address", Pattern: addressShape, Exclude: courtShape},
			RegexRule{Label: "address", Pattern: addressText},
		},
		models.FieldBuildingName: {
			KeyRule{Keys: []string{"buildingName", "bldNm", "building_name", "건물명"}},
			KeywordRule{Keywords: []string{"건물명", "단지명"}},
		},
		models.FieldLandArea: {
			KeyRule{Keys: []string{"landArea", "land_area", "토지면적"}},
			RegexRule{Label: "land_area", Pattern: landAreaText},
		},
		models.FieldBuildingArea: {
			KeyRule{Keys: []string{"buildingArea", "building_area", "건물면적"}},
			RegexRule{Label: "building_area", Pattern: buildAreaText},
		},
		models.FieldAppraisalValue: {
			ColumnRule{Index: 4, Shape: currencyShape},
			KeyRule{Keys: []string{"appraisalValue", "gamevalAmt", "appraisal_value", "감정가"}},
			KeywordRule{Keywords: []string{"감정가", "감정평가액"}},
			RegexRule{Label: "appraisal_value", Pattern: appraisalText},
		},
		models.FieldMinimumSalePrice: {
			ColumnRule{Index: 5, Shape: currencyShape},
			KeyRule{Keys: []string{"minimumPrice", "minmaePrice", "minimum_sale_price", "최저가"}},
			KeywordRule{Keywords: []string{"최저가", "최저매각가격", "최저입찰가"}},
			RegexRule{Label: "minimum_sale_price", Pattern: minimumText},
		},
		models.FieldBidDeposit: {
			KeyRule{Keys: []string{"bidDeposit", "bid_deposit", "보증금"}},
			KeywordRule{Keywords: []string{"입찰보증금", "매수보증금"}},
			RegexRule{Label: "bid_deposit", Pattern: depositText},
		},
		models.FieldAuctionDate: {
			ColumnRule{Index: 6, Shape: dateShape},
			KeyRule{Keys: []string{"auctionDate", "maeGiil", "auction_date", "매각기일"}},
			KeywordRule{Keywords: []string{"매각기일", "입찰기일", "경매일"}},
			RegexRule{Label: "auction_date", Pattern: dateText},
		},
		models.FieldAuctionTime: {
			KeyRule{Keys: []string{"auctionTime", "maeHh", "auction_time", "매각시간"}},
			KeywordRule{Keywords: []string{"매각시간", "입찰시간"}},
			RegexRule{Label: "auction_time", Pattern: clockText},
		},
		models.FieldFailureCount: {
			KeyRule{Keys: []string{"failureCount", "yuchalCnt", "failure_count", "유찰횟수"}},
			RegexRule{Label: "failure_count", Pattern: failureText},
		},
		models.FieldStatus: {
			KeyRule{Keys: []string{"status", "mulStatcd", "current_status", "진행상태"}},
			KeywordRule{Keywords: []string{"진행상태"}},
			CellPatternRule{Label: "status", Pattern: statusShape},
		},
		models.FieldTenantStatus: {
			KeyRule{Keys: []string{"tenantStatus", "tenant_status", "임차관계"}},
			KeywordRule{Keywords: []string{"임차관계", "임차인"}},
		},
		models.FieldNotes: {
			KeyRule{Keys: []string{"notes", "remark", "bigo", "비고"}},
			KeywordRule{Keywords: []string{"비고", "특이사항"}},
		},
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
