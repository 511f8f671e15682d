// Package models defines data structures shared by the ingestion pipeline.
package models

import "time"

// DefaultItemNumber is used when a source cannot disambiguate lots within a case.
const DefaultItemNumber = "1"

// PropertyType is the canonical property category.
type PropertyType string

const (
	PropertyApartment     PropertyType = "apartment"
	PropertyStudioOffice  PropertyType = "studio-office"
	PropertyDetachedHouse PropertyType = "detached-house"
	PropertyMultiUnit     PropertyType = "multi-unit"
	PropertyCommercial    PropertyType = "commercial"
	PropertyLand          PropertyType = "land"
	PropertyOther         PropertyType = "other"
)

// Status is the auction state of a property.
type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IdentityKey uniquely identifies a PropertyRecord.
type IdentityKey struct {
	CaseNumber string `json:"case_number"`
	ItemNumber string `json:"item_number"`
	SourceSite string `json:"source_site"`
}

// PropertyRecord is the canonical, persisted auction listing.
type PropertyRecord struct {
	ID                   int64        `csv:"id" json:"id"`
	CaseNumber           string       `csv:"case_number" json:"case_number"`
	ItemNumber           string       `csv:"item_number" json:"item_number"`
	SourceSite           string       `csv:"source_site" json:"source_site"`
	CourtID              *int64       `csv:"court_id" json:"court_id,omitempty"`
	CourtName            string       `csv:"court_name" json:"court_name,omitempty"`
	Address              string       `csv:"address" json:"address"`
	PropertyType         PropertyType `csv:"property_type" json:"property_type"`
	BuildingName         *string      `csv:"building_name" json:"building_name,omitempty"`
	LandArea             *float64     `csv:"land_area" json:"land_area,omitempty"`
	BuildingArea         *float64     `csv:"building_area" json:"building_area,omitempty"`
	AppraisalValue       int64        `csv:"appraisal_value" json:"appraisal_value"`
	MinimumSalePrice     int64        `csv:"minimum_sale_price" json:"minimum_sale_price"`
	BidDeposit           int64        `csv:"bid_deposit" json:"bid_deposit"`
	AuctionDate          *time.Time   `csv:"auction_date" json:"auction_date,omitempty"`
	AuctionTime          *string      `csv:"auction_time" json:"auction_time,omitempty"`
	AuctionDateEstimated bool         `csv:"auction_date_estimated" json:"auction_date_estimated"`
	FailureCount         int          `csv:"failure_count" json:"failure_count"`
	CurrentStatus        Status       `csv:"current_status" json:"current_status"`
	TenantStatus         *string      `csv:"tenant_status" json:"tenant_status,omitempty"`
	Notes                *string      `csv:"notes" json:"notes,omitempty"`
	SourceURL            string       `csv:"source_url" json:"source_url"`
	LastScrapedAt        time.Time    `csv:"last_scraped_at" json:"last_scraped_at"`
	CreatedAt            time.Time    `csv:"created_at" json:"created_at"`
	UpdatedAt            time.Time    `csv:"updated_at" json:"updated_at"`
}

// Key returns the identity key of the record.
func (p *PropertyRecord) Key() IdentityKey {
	return IdentityKey{CaseNumber: p.CaseNumber, ItemNumber: p.ItemNumber, SourceSite: p.SourceSite}
}

// DiscountRate is the percentage gap between appraisal value and minimum sale price.
func (p *PropertyRecord) DiscountRate() float64 {
	if p.AppraisalValue <= 0 || p.MinimumSalePrice <= 0 {
		return 0
	}
	return float64(p.AppraisalValue-p.MinimumSalePrice) / float64(p.AppraisalValue) * 100
}

// Court is a row of the courts lookup table.
type Court struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
