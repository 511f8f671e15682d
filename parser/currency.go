package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	unitEok = 100_000_000
	unitMan = 10_000
)

var (
	currencyStripper = strings.NewReplacer(",", "", " ", "", "\t", "", " ", "", "₩", "", "\\", "")
	plainAmount      = regexp.MustCompile(`\d+`)
)

// ParseCurrency converts a won amount written with 억/만/천 components or plain
// digits into an integer. Unparsable input yields 0.
//
//	"1억5000만원"   -> 150000000
//	"850,000,000원" -> 850000000
//	"5천만원"       -> 50000000
func ParseCurrency(raw string) int64 {
	s := currencyStripper.Replace(strings.TrimSpace(raw))
	if s == "" {
		return 0
	}

	if !strings.Contains(s, "억") && !strings.Contains(s, "만") {
		digits := amountDigits(s)
		if digits == "" {
			return 0
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}

	total := 0.0
	rest := s
	if i := strings.Index(rest, "억"); i >= 0 {
		total += numericSuffix(rest[:i]) * unitEok
		rest = rest[i+len("억"):]
	}
	if i := strings.Index(rest, "만"); i >= 0 {
		total += numericSuffix(rest[:i]) * unitMan
		rest = rest[i+len("만"):]
	}
	total += numericPrefix(rest)

	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return 0
	}
	return int64(math.Round(total))
}

// amountDigits picks the digit run that carries the amount: the one directly
// before 원, else the longest. Ordinals like "2차" and percentages lose.
func amountDigits(s string) string {
	var best string
	for _, loc := range plainAmount.FindAllStringIndex(s, -1) {
		run := s[loc[0]:loc[1]]
		if strings.HasPrefix(s[loc[1]:], "원") {
			return run
		}
		if len(run) > len(best) {
			best = run
		}
	}
	return best
}

// numericSuffix evaluates the trailing run of digits and 천/백 markers in s.
func numericSuffix(s string) float64 {
	runes := []rune(s)
	start := len(runes)
	for start > 0 && isAmountRune(runes[start-1]) {
		start--
	}
	return evalSmallUnits(string(runes[start:]))
}

// numericPrefix evaluates the leading run of digits and 천/백 markers in s.
func numericPrefix(s string) float64 {
	runes := []rune(s)
	end := 0
	for end < len(runes) && isAmountRune(runes[end]) {
		end++
	}
	return evalSmallUnits(string(runes[:end]))
}

func isAmountRune(r rune) bool {
	return (r >= '0' && r <= '9') || r == '.' || r == '천' || r == '백'
}

// evalSmallUnits handles values below 만 such as "5000", "5천" or "3천2백".
func evalSmallUnits(s string) float64 {
	if s == "" {
		return 0
	}
	total := 0.0
	var num strings.Builder
	flush := func(multiplier float64) {
		v := 1.0
		if num.Len() > 0 {
			parsed, err := strconv.ParseFloat(num.String(), 64)
			if err != nil {
				parsed = 0
			}
			v = parsed
		}
		total += v * multiplier
		num.Reset()
	}
	for _, r := range s {
		switch r {
		case '천':
			flush(1000)
		case '백':
			flush(100)
		default:
			num.WriteRune(r)
		}
	}
	if num.Len() > 0 {
		flush(1)
	}
	return total
}
