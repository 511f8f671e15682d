package parser

import (
	"testing"
	"time"

	"github.com/aluiziolira/go-auction-ingest/models"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{name: "eok and man", input: "1억5000만원", expected: 150000000},
		{name: "separated digits", input: "850,000,000원", expected: 850000000},
		{name: "bare digits", input: "595000000", expected: 595000000},
		{name: "label prefix", input: "감정가 850,000,000원", expected: 850000000},
		{name: "trailing percentage", input: "최저가 595,000,000원 (70%)", expected: 595000000},
		{name: "eok only", input: "3억원", expected: 300000000},
		{name: "decimal eok", input: "1.5억", expected: 150000000},
		{name: "man only", input: "5000만원", expected: 50000000},
		{name: "cheon man", input: "5천만원", expected: 50000000},
		{name: "spaced units", input: "12억 3,400만 원", expected: 1234000000},
		{name: "remainder after man", input: "1억2345만6789원", expected: 123456789},
		{name: "ordinal before amount", input: "2차 최저가 595,000,000원", expected: 595000000},
		{name: "ordinal without won", input: "3회 유찰 최저가 416500000", expected: 416500000},
		{name: "empty", input: "", expected: 0},
		{name: "no digits", input: "미정", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCurrency(tt.input); got != tt.expected {
				t.Errorf("ParseCurrency(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "dashes", input: "2024-12-15", want: "2024-12-15", ok: true},
		{name: "dots", input: "2024.12.15", want: "2024-12-15", ok: true},
		{name: "slashes", input: "2024/1/5", want: "2024-01-05", ok: true},
		{name: "korean", input: "2024년 12월 15일", want: "2024-12-15", ok: true},
		{name: "two digit year", input: "24.12.15", want: "2024-12-15", ok: true},
		{name: "compact", input: "20241215", want: "2024-12-15", ok: true},
		{name: "with time", input: "매각기일 2024.12.15 10:00", want: "2024-12-15", ok: true},
		{name: "invalid day", input: "2024-02-30", ok: false},
		{name: "garbage", input: "추후지정", ok: false},
		{name: "empty", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestNormalizeAuctionDateFallback(t *testing.T) {
	now := time.Date(2024, 11, 1, 15, 30, 0, 0, KST)

	got, estimated := NormalizeAuctionDate("추후 지정", now)
	if !estimated {
		t.Fatalf("expected fallback date to be flagged as estimated")
	}
	if want := "2024-12-01"; got.Format("2006-01-02") != want {
		t.Fatalf("fallback date = %s, want %s", got.Format("2006-01-02"), want)
	}

	parsed, estimated := NormalizeAuctionDate("2024-12-15", now)
	if estimated {
		t.Fatalf("parsed date should not be flagged as estimated")
	}
	if parsed.Format("2006-01-02") != "2024-12-15" {
		t.Fatalf("parsed date = %s", parsed.Format("2006-01-02"))
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "10:00", expected: "10:00"},
		{input: "14시 30분", expected: "14:30"},
		{input: "오후 2시", expected: "14:00"},
		{input: "오전 12:10", expected: "00:10"},
		{input: "2024-12-15 10:30", expected: "10:30"},
		{input: "25:00", expected: ""},
		{input: "2024.12.15", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseClock(tt.input); got != tt.expected {
				t.Errorf("ParseClock(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestClassifyPropertyType(t *testing.T) {
	tests := []struct {
		input    string
		expected models.PropertyType
	}{
		{input: "아파트", expected: models.PropertyApartment},
		{input: "주상복합 아파트", expected: models.PropertyApartment},
		{input: "오피스텔", expected: models.PropertyStudioOffice},
		{input: "다가구주택", expected: models.PropertyMultiUnit},
		{input: "다세대(빌라)", expected: models.PropertyMultiUnit},
		{input: "단독주택", expected: models.PropertyDetachedHouse},
		{input: "근린상가", expected: models.PropertyCommercial},
		{input: "임야", expected: models.PropertyLand},
		{input: "Apartment", expected: models.PropertyApartment},
		{input: "Apartments", expected: models.PropertyApartment},
		{input: "detached house", expected: models.PropertyDetachedHouse},
		{input: "multi-family", expected: models.PropertyMultiUnit},
		{input: "warehouse", expected: models.PropertyOther},
		{input: "island lot", expected: models.PropertyOther},
		{input: "farmland", expected: models.PropertyOther},
		{input: "주차장", expected: models.PropertyOther},
		{input: "", expected: models.PropertyOther},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ClassifyPropertyType(tt.input); got != tt.expected {
				t.Errorf("ClassifyPropertyType(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeCourtName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "서울중앙지방법원", expected: "서울중앙지방법원"},
		{input: " 서울중앙지법 경매3계 ", expected: "서울중앙지방법원"},
		{input: "수원지방법원 성남지원", expected: "수원지방법원 성남지원"},
		{input: "수원지법", expected: "수원지방법원"},
		{input: "부산지방법원 동부지원", expected: "부산지방법원 동부지원"},
		{input: "부산지방법원 서부지원", expected: "부산지방법원 서부지원"},
		{input: "대구지방법원 서부지원", expected: "대구지방법원 서부지원"},
		{input: "대구지법  서부지원 경매2계", expected: "대구지방법원 서부지원"},
		{input: "창원지방법원 마산지원", expected: "창원지방법원 마산지원"},
		{input: "진주지원", expected: "창원지방법원 진주지원"},
		{input: "부산지방법원", expected: "부산지방법원"},
		{input: "  어느  지방법원 ", expected: "어느 지방법원"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeCourtName(tt.input); got != tt.expected {
				t.Errorf("NormalizeCourtName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected models.Status
	}{
		{input: "진행", expected: models.StatusActive},
		{input: "유찰 2회", expected: models.StatusFailed},
		{input: "낙찰", expected: models.StatusSold},
		{input: "취하", expected: models.StatusCancelled},
		{input: "Cancelled", expected: models.StatusCancelled},
		{input: "unsold", expected: models.StatusActive},
		{input: "", expected: models.StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseStatus(tt.input); got != tt.expected {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSmallFieldParsers(t *testing.T) {
	if got := NormalizeCaseNumber(" 2024 타경 12345 "); got != "2024타경12345" {
		t.Errorf("NormalizeCaseNumber = %q", got)
	}
	if got := NormalizeItemNumber("물건번호 02"); got != "2" {
		t.Errorf("NormalizeItemNumber = %q, want 2", got)
	}
	if got := NormalizeItemNumber(""); got != models.DefaultItemNumber {
		t.Errorf("NormalizeItemNumber empty = %q", got)
	}
	if got := ParseFailureCount("유찰 3회"); got != 3 {
		t.Errorf("ParseFailureCount = %d, want 3", got)
	}
	if got := ParseFailureCount("없음"); got != 0 {
		t.Errorf("ParseFailureCount = %d, want 0", got)
	}
	if got := ParseArea("84.97㎡"); got == nil || *got != 84.97 {
		t.Errorf("ParseArea m2 = %v", got)
	}
	if got := ParseArea("10평"); got == nil || *got != 33.06 {
		t.Errorf("ParseArea pyeong = %v", got)
	}
	if got := ParseArea("미상"); got != nil {
		t.Errorf("ParseArea unknown = %v, want nil", *got)
	}
}

func TestNormalizeCandidate(t *testing.T) {
	now := time.Date(2024, 11, 1, 9, 0, 0, 0, KST)
	c := models.NewCandidate(0, "https://courtauction.test/list?page=1")
	c.Set(models.FieldCaseNumber, "2024타경12345", "column")
	c.Set(models.FieldCourtName, "서울중앙지방법원", "column")
	c.Set(models.FieldPropertyType, "아파트", "column")
	c.Set(models.FieldAddress, "서울특별시 강남구 역삼동 123", "column")
	c.Set(models.FieldAppraisalValue, "감정가 850,000,000원", "column")
	c.Set(models.FieldMinimumSalePrice, "최저가 595,000,000원", "column")
	c.Set(models.FieldAuctionDate, "2024-12-15", "column")

	rec, q := Normalize(c, "courtauction", now)

	if rec.CaseNumber != "2024타경12345" {
		t.Fatalf("case number = %q", rec.CaseNumber)
	}
	if rec.ItemNumber != "1" {
		t.Fatalf("item number = %q, want 1", rec.ItemNumber)
	}
	if rec.PropertyType != models.PropertyApartment {
		t.Fatalf("property type = %q", rec.PropertyType)
	}
	if rec.AppraisalValue != 850000000 || rec.MinimumSalePrice != 595000000 {
		t.Fatalf("amounts = %d/%d", rec.AppraisalValue, rec.MinimumSalePrice)
	}
	if rec.AuctionDate == nil || rec.AuctionDate.Format("2006-01-02") != "2024-12-15" {
		t.Fatalf("auction date = %v", rec.AuctionDate)
	}
	if rec.CurrentStatus != models.StatusActive {
		t.Fatalf("status = %q", rec.CurrentStatus)
	}
	if rec.CourtName != "서울중앙지방법원" {
		t.Fatalf("court = %q", rec.CourtName)
	}
	if rec.BidDeposit != 59500000 {
		t.Fatalf("derived bid deposit = %d", rec.BidDeposit)
	}
	if q.Degraded() || rec.AuctionDateEstimated {
		t.Fatalf("record should not be low confidence: %+v", q)
	}
	if got := rec.DiscountRate(); got < 29.9 || got > 30.1 {
		t.Fatalf("discount rate = %.2f, want 30", got)
	}
}

func TestNormalizeCandidateFallbacks(t *testing.T) {
	now := time.Date(2024, 11, 1, 9, 0, 0, 0, KST)
	c := models.NewCandidate(3, "")
	c.Set(models.FieldCaseNumber, "2023타경 777(2)", "regex")
	c.Set(models.FieldAddress, "경기도 성남시 분당구 정자동 1 파크뷰아파트", "cell")
	c.Set(models.FieldAuctionDate, "미정", "keyword")

	rec, q := Normalize(c, "manual", now)

	if rec.CaseNumber != "2023타경777" || rec.ItemNumber != "2" {
		t.Fatalf("identity = %s/%s", rec.CaseNumber, rec.ItemNumber)
	}
	if rec.PropertyType != models.PropertyApartment {
		t.Fatalf("type inferred from address = %q", rec.PropertyType)
	}
	if !rec.AuctionDateEstimated || !q.Degraded() {
		t.Fatalf("expected low-confidence auction date")
	}
	if rec.AuctionDate.Format("2006-01-02") != "2024-12-01" {
		t.Fatalf("fallback date = %s", rec.AuctionDate.Format("2006-01-02"))
	}
}

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		rec     *models.PropertyRecord
		wantErr bool
	}{
		{name: "valid", rec: &models.PropertyRecord{CaseNumber: "2024타경1"}, wantErr: false},
		{name: "nil", rec: nil, wantErr: true},
		{name: "missing case", rec: &models.PropertyRecord{CaseNumber: "  "}, wantErr: true},
		{name: "negative price", rec: &models.PropertyRecord{CaseNumber: "2024타경1", MinimumSalePrice: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
