package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-auction-ingest/models"
)

const pyeongToSquareMeters = 3.305785

type keywordClass[T any] struct {
	value    T
	keywords []string
}

// Order matters: 다가구주택 must classify as multi-unit before 주택 matches.
var propertyTypeKeywords = []keywordClass[models.PropertyType]{
	{models.PropertyApartment, []string{"아파트", "apartment"}},
	{models.PropertyStudioOffice, []string{"오피스텔", "officetel", "studio"}},
	{models.PropertyMultiUnit, []string{"다세대", "연립", "빌라", "다가구", "multi"}},
	{models.PropertyDetachedHouse, []string{"단독", "주택", "detached", "house"}},
	{models.PropertyCommercial, []string{"상가", "근린", "점포", "사무실", "공장", "숙박", "commercial", "retail"}},
	{models.PropertyLand, []string{"토지", "대지", "임야", "농지", "전답", "land"}},
}

var statusKeywords = []keywordClass[models.Status]{
	{models.StatusCancelled, []string{"취하", "취소", "기각", "정지", "cancel", "cancelled", "canceled"}},
	{models.StatusSold, []string{"낙찰", "매각완료", "매각허가", "sold"}},
	{models.StatusFailed, []string{"유찰", "failed"}},
	{models.StatusActive, []string{"진행", "신건", "active"}},
}

// Branch courts come before their parent court so that
// "수원지방법원 성남지원" resolves to the branch.
var courtFragments = []struct {
	fragment  string
	canonical string
}{
	{"서울중앙", "서울중앙지방법원"},
	{"서울동부", "서울동부지방법원"},
	{"서울서부", "서울서부지방법원"},
	{"서울남부", "서울남부지방법원"},
	{"서울북부", "서울북부지방법원"},
	{"고양", "의정부지방법원 고양지원"},
	{"남양주", "의정부지방법원 남양주지원"},
	{"부천", "인천지방법원 부천지원"},
	{"성남", "수원지방법원 성남지원"},
	{"여주", "수원지방법원 여주지원"},
	{"평택", "수원지방법원 평택지원"},
	{"안산", "수원지방법원 안산지원"},
	{"안양", "수원지방법원 안양지원"},
	{"강릉", "춘천지방법원 강릉지원"},
	{"원주", "춘천지방법원 원주지원"},
	{"천안", "대전지방법원 천안지원"},
	{"속초", "춘천지방법원 속초지원"},
	{"영월", "춘천지방법원 영월지원"},
	{"홍성", "대전지방법원 홍성지원"},
	{"논산", "대전지방법원 논산지원"},
	{"공주", "대전지방법원 공주지원"},
	{"서산", "대전지방법원 서산지원"},
	{"충주", "청주지방법원 충주지원"},
	{"제천", "청주지방법원 제천지원"},
	{"영동", "청주지방법원 영동지원"},
	{"포항", "대구지방법원 포항지원"},
	{"안동", "대구지방법원 안동지원"},
	{"경주", "대구지방법원 경주지원"},
	{"김천", "대구지방법원 김천지원"},
	{"상주", "대구지방법원 상주지원"},
	{"의성", "대구지방법원 의성지원"},
	{"영덕", "대구지방법원 영덕지원"},
	{"마산", "창원지방법원 마산지원"},
	{"진주", "창원지방법원 진주지원"},
	{"통영", "창원지방법원 통영지원"},
	{"밀양", "창원지방법원 밀양지원"},
	{"거창", "창원지방법원 거창지원"},
	{"목포", "광주지방법원 목포지원"},
	{"장흥", "광주지방법원 장흥지원"},
	{"순천", "광주지방법원 순천지원"},
	{"해남", "광주지방법원 해남지원"},
	{"군산", "전주지방법원 군산지원"},
	{"정읍", "전주지방법원 정읍지원"},
	{"남원", "전주지방법원 남원지원"},
	{"의정부", "의정부지방법원"},
	{"인천", "인천지방법원"},
	{"수원", "수원지방법원"},
	{"춘천", "춘천지방법원"},
	{"대전", "대전지방법원"},
	{"청주", "청주지방법원"},
	{"대구", "대구지방법원"},
	{"부산", "부산지방법원"},
	{"울산", "울산지방법원"},
	{"창원", "창원지방법원"},
	{"광주", "광주지방법원"},
	{"전주", "전주지방법원"},
	{"제주", "제주지방법원"},
}

var (
	branchCourtPattern = regexp.MustCompile(`([가-힣]{2})\s*(?:지방법원|지법)\s*([가-힣]{2})\s*지원`)
	caseNumberPattern = regexp.MustCompile(`(\d{4})\s*타\s*경\s*(\d+)`)
	itemNumberPattern = regexp.MustCompile(`\d+`)
	areaPattern       = regexp.MustCompile(`([\d.,]+)\s*(㎡|m²|m2|평)`)
	countPattern      = regexp.MustCompile(`(\d+)\s*회`)
	leadingDigits     = regexp.MustCompile(`^\s*(\d+)`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// ClassifyPropertyType maps free text to a property type; first match wins.
func ClassifyPropertyType(raw string) models.PropertyType {
	if t, ok := matchKeywords(raw, propertyTypeKeywords); ok {
		return t
	}
	return models.PropertyOther
}

// ParseStatus maps a status label to an auction status, defaulting to active.
func ParseStatus(raw string) models.Status {
	if s, ok := matchKeywords(raw, statusKeywords); ok {
		return s
	}
	return models.StatusActive
}

// NormalizeCourtName resolves known court fragments to a canonical name.
// Unknown text is returned trimmed.
func NormalizeCourtName(raw string) string {
	s := CollapseSpaces(raw)
	if s == "" {
		return ""
	}
	if m := branchCourtPattern.FindStringSubmatch(s); m != nil && isDistrictCourt(m[1]+"지방법원") {
		return m[1] + "지방법원 " + m[2] + "지원"
	}
	for _, c := range courtFragments {
		if strings.Contains(s, c.fragment) {
			return c.canonical
		}
	}
	return s
}

func isDistrictCourt(name string) bool {
	for _, c := range courtFragments {
		if c.canonical == name {
			return true
		}
	}
	return false
}

// NormalizeCaseNumber canonicalises "2024 타경 12345" to "2024타경12345".
// Text that does not look like a case number is returned without spaces.
func NormalizeCaseNumber(raw string) string {
	if m := caseNumberPattern.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf("%s타경%s", m[1], m[2])
	}
	return whitespace.ReplaceAllString(strings.TrimSpace(raw), "")
}

// LooksLikeCaseNumber reports whether s contains a case-number token.
func LooksLikeCaseNumber(s string) bool {
	return caseNumberPattern.MatchString(s)
}

// NormalizeItemNumber extracts the lot number, defaulting to "1".
func NormalizeItemNumber(raw string) string {
	digits := itemNumberPattern.FindString(raw)
	if digits == "" {
		return models.DefaultItemNumber
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return models.DefaultItemNumber
	}
	return strconv.Itoa(n)
}

// ParseArea converts "84.5㎡" or "25평" to square meters.
func ParseArea(raw string) *float64 {
	m := areaPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return nil
	}
	if m[2] == "평" {
		v *= pyeongToSquareMeters
	}
	v = math.Round(v*100) / 100
	return &v
}

// ParseFailureCount reads "유찰 2회" or "2" as a failure count.
func ParseFailureCount(raw string) int {
	m := countPattern.FindStringSubmatch(raw)
	if m == nil {
		m = leadingDigits.FindStringSubmatch(raw)
	}
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CollapseSpaces trims and collapses internal whitespace runs.
func CollapseSpaces(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

func matchKeywords[T any](raw string, classes []keywordClass[T]) (T, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	var zero T
	if s == "" {
		return zero, false
	}
	for _, c := range classes {
		for _, kw := range c.keywords {
			if containsKeyword(s, kw) {
				return c.value, true
			}
		}
	}
	return zero, false
}

// containsKeyword matches Hangul keywords as substrings, since Korean
// compounds them freely ("다가구주택"). Latin keywords must stand as a word,
// optionally plural, so "warehouse" is not a house.
func containsKeyword(s, kw string) bool {
	if !isLatin(kw) {
		return strings.Contains(s, kw)
	}
	for from := 0; ; {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(kw)
		if end < len(s) && s[end] == 's' {
			end++
		}
		if (start == 0 || !isLatinLetter(s[start-1])) && (end == len(s) || !isLatinLetter(s[end])) {
			return true
		}
		from = start + 1
	}
}

func isLatin(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isLatinLetter(s[i]) {
			return false
		}
	}
	return s != ""
}

func isLatinLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
