// Package parser normalizes raw listing text into canonical property records.
package parser

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// bidDepositRate is the statutory share of the minimum sale price that
// bidders deposit when a source omits it.
const bidDepositRate = 10

var (
	// ErrMissingCaseNumber marks a candidate without an identity-bearing case number.
	ErrMissingCaseNumber = eris.New("parser: missing case number")
)

// Quality lists fields whose values are estimates rather than parsed input.
type Quality struct {
	LowConfidence []models.Field
	Derived       []models.Field
}

// Degraded reports whether any field fell back to an estimate.
func (q Quality) Degraded() bool {
	return len(q.LowConfidence) > 0
}

// Normalize turns a candidate bundle into a canonical record. It never fails;
// unparsable fields become zero values and are reported in Quality.
func Normalize(c *models.Candidate, sourceSite string, now time.Time) (*models.PropertyRecord, Quality) {
	var q Quality
	rec := &models.PropertyRecord{
		SourceSite:    sourceSite,
		CurrentStatus: models.StatusActive,
		PropertyType:  models.PropertyOther,
		ItemNumber:    models.DefaultItemNumber,
		LastScrapedAt: now,
	}
	if c == nil {
		return rec, q
	}
	rec.SourceURL = c.SourceURL

	rawCase := c.Get(models.FieldCaseNumber)
	rec.CaseNumber = NormalizeCaseNumber(rawCase)
	rec.ItemNumber = itemNumberFor(c.Get(models.FieldItemNumber), rawCase)

	rec.CourtName = NormalizeCourtName(c.Get(models.FieldCourtName))
	rec.Address = CollapseSpaces(c.Get(models.FieldAddress))
	rec.BuildingName = optionalText(c.Get(models.FieldBuildingName))

	if rawType := c.Get(models.FieldPropertyType); rawType != "" {
		rec.PropertyType = ClassifyPropertyType(rawType)
	} else {
		rec.PropertyType = ClassifyPropertyType(rec.Address + " " + c.Get(models.FieldBuildingName))
	}

	rec.LandArea = ParseArea(c.Get(models.FieldLandArea))
	rec.BuildingArea = ParseArea(c.Get(models.FieldBuildingArea))

	rec.AppraisalValue = ParseCurrency(c.Get(models.FieldAppraisalValue))
	rec.MinimumSalePrice = ParseCurrency(c.Get(models.FieldMinimumSalePrice))
	rec.BidDeposit = ParseCurrency(c.Get(models.FieldBidDeposit))
	if rec.BidDeposit == 0 && rec.MinimumSalePrice > 0 {
		rec.BidDeposit = rec.MinimumSalePrice / bidDepositRate
		q.Derived = append(q.Derived, models.FieldBidDeposit)
	}

	date, estimated := NormalizeAuctionDate(c.Get(models.FieldAuctionDate), now)
	rec.AuctionDate = &date
	rec.AuctionDateEstimated = estimated
	if estimated {
		q.LowConfidence = append(q.LowConfidence, models.FieldAuctionDate)
	}

	if clock := ParseClock(c.Get(models.FieldAuctionTime)); clock != "" {
		rec.AuctionTime = &clock
	}

	rec.FailureCount = ParseFailureCount(c.Get(models.FieldFailureCount))
	rec.CurrentStatus = ParseStatus(c.Get(models.FieldStatus))
	rec.TenantStatus = optionalText(c.Get(models.FieldTenantStatus))
	rec.Notes = optionalText(c.Get(models.FieldNotes))

	return rec, q
}

// ValidateRecord applies type and range sanity checks before a record is
// submitted to the store.
func ValidateRecord(rec *models.PropertyRecord) error {
	if rec == nil {
		return eris.New("parser: record is nil")
	}
	if strings.TrimSpace(rec.CaseNumber) == "" {
		return ErrMissingCaseNumber
	}
	if rec.AppraisalValue < 0 || rec.MinimumSalePrice < 0 || rec.BidDeposit < 0 {
		return eris.Errorf("parser: negative amount for %s", rec.CaseNumber)
	}
	if rec.FailureCount < 0 {
		return eris.Errorf("parser: negative failure count for %s", rec.CaseNumber)
	}
	return nil
}

// itemNumberFor prefers an explicit item number, then a "(N)" suffix on
// the case number cell.
func itemNumberFor(rawItem, rawCase string) string {
	if strings.TrimSpace(rawItem) != "" {
		return NormalizeItemNumber(rawItem)
	}
	if loc := caseNumberPattern.FindStringIndex(rawCase); loc != nil {
		tail := rawCase[loc[1]:]
		if open := strings.Index(tail, "("); open >= 0 {
			if end := strings.Index(tail[open:], ")"); end > 0 {
				return NormalizeItemNumber(tail[open+1 : open+end])
			}
		}
	}
	return models.DefaultItemNumber
}

func optionalText(raw string) *string {
	s := CollapseSpaces(raw)
	if s == "" || s == "-" {
		return nil
	}
	return &s
}
