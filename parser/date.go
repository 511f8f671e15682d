package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FallbackAuctionWindow is added to the normalization time when an auction
// date cannot be parsed.
const FallbackAuctionWindow = 30 * 24 * time.Hour

// KST is the timezone auction dates are expressed in.
var KST = time.FixedZone("KST", 9*60*60)

var (
	separatedDate = regexp.MustCompile(`(\d{2,4})\s*(?:[-./]|년)\s*(\d{1,2})\s*(?:[-./]|월)\s*(\d{1,2})`)
	compactDate   = regexp.MustCompile(`(?:^|\D)(\d{4})(\d{2})(\d{2})(?:\D|$)`)
	clockPattern  = regexp.MustCompile(`(오전|오후|AM|PM|am|pm)?\s*(\d{1,2})\s*(?::|시)\s*(\d{1,2})?`)
)

// ParseDate recognises YYYY-MM-DD, YYYY.MM.DD, YYYY/MM/DD, "YYYY년 MM월 DD일",
// YYYYMMDD and two-digit-year variants of the separated forms.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if m := separatedDate.FindStringSubmatch(s); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	if m := compactDate.FindStringSubmatch(s); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeAuctionDate parses raw or falls back to 30 days after now. The
// second return value is true when the fallback was used.
func NormalizeAuctionDate(raw string, now time.Time) (time.Time, bool) {
	if t, ok := ParseDate(raw); ok {
		return t, false
	}
	fallback := now.In(KST).Add(FallbackAuctionWindow)
	return time.Date(fallback.Year(), fallback.Month(), fallback.Day(), 0, 0, 0, 0, KST), true
}

// ParseClock extracts an HH:MM auction time. Returns "" when none is found.
func ParseClock(raw string) string {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}
	hour, err := strconv.Atoi(m[2])
	if err != nil {
		return ""
	}
	minute := 0
	if m[3] != "" {
		if minute, err = strconv.Atoi(m[3]); err != nil {
			return ""
		}
	}
	switch m[1] {
	case "오후", "PM", "pm":
		if hour < 12 {
			hour += 12
		}
	case "오전", "AM", "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func buildDate(ys, ms, ds string) (time.Time, bool) {
	year, err := strconv.Atoi(ys)
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(ms)
	if err != nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(ds)
	if err != nil {
		return time.Time{}, false
	}
	switch {
	case len(ys) == 2:
		year += 2000
	case len(ys) != 4:
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, KST)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
