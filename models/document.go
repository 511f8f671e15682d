package models

import "time"

// ContentType describes how a RawDocument's content is encoded.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentJSON ContentType = "json"
	ContentXML  ContentType = "xml"
	ContentText ContentType = "text"
)

// RawDocument is the opaque payload of one fetch.
type RawDocument struct {
	SourceSite     string      `json:"source_site"`
	FetchedAt      time.Time   `json:"fetched_at"`
	OriginURL      string      `json:"origin_url"`
	PageIndex      int         `json:"page_index"`
	ContentType    ContentType `json:"content_type"`
	Content        []byte      `json:"content"`
	LayoutMismatch bool        `json:"layout_mismatch,omitempty"`
}

// Field names a candidate field extracted from a listing row.
type Field string

const (
	FieldCaseNumber       Field = "case_number"
	FieldItemNumber       Field = "item_number"
	FieldCourtName        Field = "court_name"
	FieldPropertyType     Field = "property_type"
	FieldAddress          Field = "address"
	FieldBuildingName     Field = "building_name"
	FieldLandArea         Field = "land_area"
	FieldBuildingArea     Field = "building_area"
	FieldAppraisalValue   Field = "appraisal_value"
	FieldMinimumSalePrice Field = "minimum_sale_price"
	FieldBidDeposit       Field = "bid_deposit"
	FieldAuctionDate      Field = "auction_date"
	FieldAuctionTime      Field = "auction_time"
	FieldFailureCount     Field = "failure_count"
	FieldStatus           Field = "status"
	FieldTenantStatus     Field = "tenant_status"
	FieldNotes            Field = "notes"
)

// CandidateValue is a raw field value plus the rule that produced it.
type CandidateValue struct {
	Raw      string `json:"raw"`
	Strategy string `json:"strategy"`
}

// Candidate is the field-candidate bundle for one listing row.
type Candidate struct {
	Fields    map[Field]CandidateValue `json:"fields"`
	RowIndex  int                      `json:"row_index"`
	SourceURL string                   `json:"source_url"`
}

// NewCandidate returns an empty bundle for the given row.
func NewCandidate(rowIndex int, sourceURL string) *Candidate {
	return &Candidate{
		Fields:    make(map[Field]CandidateValue),
		RowIndex:  rowIndex,
		SourceURL: sourceURL,
	}
}

// Get returns the raw value for a field, or "".
func (c *Candidate) Get(f Field) string {
	if c == nil {
		return ""
	}
	return c.Fields[f].Raw
}

// Set records a value if it is non-empty.
func (c *Candidate) Set(f Field, raw, strategy string) {
	if raw == "" {
		return
	}
	c.Fields[f] = CandidateValue{Raw: raw, Strategy: strategy}
}
