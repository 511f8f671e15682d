package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/models"
)

// Outcome is the result of submitting one record.
type Outcome int

const (
	OutcomeDiscarded Outcome = iota
	OutcomeInserted
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "discarded"
	}
}

const (
	selectCourtSQL = `SELECT id FROM courts WHERE name ILIKE '%' || $1 || '%' ESCAPE '\' ORDER BY length(name), id LIMIT 1`
	insertCourtSQL = `INSERT INTO courts (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	lockPropertySQL = `SELECT id FROM properties
		WHERE case_number = $1 AND item_number = $2 AND source_site = $3
		FOR UPDATE`

	insertPropertySQL = `INSERT INTO properties (
		case_number, item_number, source_site, court_id, address, property_type,
		building_name, land_area, building_area, appraisal_value, minimum_sale_price,
		bid_deposit, auction_date, auction_time, auction_date_estimated, failure_count,
		current_status, tenant_status, notes, source_url, last_scraped_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::time, $15, $16, $17, $18, $19, $20, $21, $22, $22)
	RETURNING id`

	updatePropertySQL = `UPDATE properties SET
		appraisal_value = $2, minimum_sale_price = $3, bid_deposit = $4,
		auction_date = $5, auction_time = $6::time, auction_date_estimated = $7,
		failure_count = $8, current_status = $9, tenant_status = $10, notes = $11,
		source_url = $12, last_scraped_at = $13, updated_at = $14
	WHERE id = $1`

	propertyColumns = `p.id, p.case_number, p.item_number, p.source_site, p.court_id,
		coalesce(c.name, ''), p.address, p.property_type, p.building_name, p.land_area,
		p.building_area, p.appraisal_value, p.minimum_sale_price, p.bid_deposit,
		p.auction_date, to_char(p.auction_time, 'HH24:MI'), p.auction_date_estimated,
		p.failure_count, p.current_status, p.tenant_status, p.notes, p.source_url,
		p.last_scraped_at, p.created_at, p.updated_at`

	propertyFrom = ` FROM properties p LEFT JOIN courts c ON c.id = p.court_id`
)

// Upsert inserts rec or updates the mutable fields of the existing record
// with the same identity key, in one transaction. The court is resolved to
// an id inside the same transaction. On success rec.ID and rec.CourtID are
// set.
func (s *PostgresStore) Upsert(ctx context.Context, rec *models.PropertyRecord) (Outcome, error) {
	if rec == nil || strings.TrimSpace(rec.CaseNumber) == "" {
		return OutcomeDiscarded, ErrMissingIdentity
	}
	if rec.ItemNumber == "" {
		rec.ItemNumber = models.DefaultItemNumber
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return OutcomeDiscarded, eris.Wrap(err, "store: upsert: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	courtName := strings.TrimSpace(rec.CourtName)
	courtID, cached, err := s.resolveCourt(ctx, tx, courtName)
	if err != nil {
		return OutcomeDiscarded, err
	}

	now := s.now()
	var id int64
	outcome := OutcomeUpdated
	err = tx.QueryRow(ctx, lockPropertySQL, rec.CaseNumber, rec.ItemNumber, rec.SourceSite).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		outcome = OutcomeInserted
		err = tx.QueryRow(ctx, insertPropertySQL,
			rec.CaseNumber, rec.ItemNumber, rec.SourceSite, courtID, rec.Address, string(rec.PropertyType),
			rec.BuildingName, rec.LandArea, rec.BuildingArea, rec.AppraisalValue, rec.MinimumSalePrice,
			rec.BidDeposit, auctionDate(rec.AuctionDate), rec.AuctionTime, rec.AuctionDateEstimated, rec.FailureCount,
			string(rec.CurrentStatus), rec.TenantStatus, rec.Notes, rec.SourceURL, rec.LastScrapedAt, now,
		).Scan(&id)
		if err != nil {
			return OutcomeDiscarded, writeError(err, "insert", rec)
		}
		rec.CreatedAt = now
	case err != nil:
		return OutcomeDiscarded, eris.Wrapf(err, "store: lock %s", describe(rec))
	default:
		_, err = tx.Exec(ctx, updatePropertySQL,
			id, rec.AppraisalValue, rec.MinimumSalePrice, rec.BidDeposit,
			auctionDate(rec.AuctionDate), rec.AuctionTime, rec.AuctionDateEstimated,
			rec.FailureCount, string(rec.CurrentStatus), rec.TenantStatus, rec.Notes,
			rec.SourceURL, rec.LastScrapedAt, now,
		)
		if err != nil {
			return OutcomeDiscarded, writeError(err, "update", rec)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return OutcomeDiscarded, writeError(err, "commit", rec)
	}
	committed = true

	if courtID != nil && !cached {
		s.courts.Add(courtName, *courtID)
	}
	rec.ID = id
	rec.CourtID = courtID
	rec.UpdatedAt = now
	return outcome, nil
}

// resolveCourt maps a court name to its id, creating the row when no known
// court name contains it. cached reports a cache hit.
func (s *PostgresStore) resolveCourt(ctx context.Context, tx pgx.Tx, name string) (*int64, bool, error) {
	if name == "" {
		return nil, false, nil
	}
	if id, ok := s.courts.Get(name); ok {
		return &id, true, nil
	}

	var id int64
	err := tx.QueryRow(ctx, selectCourtSQL, likeEscaper.Replace(name)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, insertCourtSQL, name).Scan(&id)
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "store: resolve court %q", name)
	}
	return &id, false, nil
}

// likeEscaper makes LIKE wildcards in a court name match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GetProperty loads one record by identity key.
func (s *PostgresStore) GetProperty(ctx context.Context, key models.IdentityKey) (*models.PropertyRecord, error) {
	if key.ItemNumber == "" {
		key.ItemNumber = models.DefaultItemNumber
	}
	query := `SELECT ` + propertyColumns + propertyFrom +
		` WHERE p.case_number = $1 AND p.item_number = $2 AND p.source_site = $3`

	rec, err := scanProperty(s.pool.QueryRow(ctx, query, key.CaseNumber, key.ItemNumber, key.SourceSite))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "property %s/%s@%s", key.CaseNumber, key.ItemNumber, key.SourceSite)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get property")
	}
	return rec, nil
}

// PropertyFilter narrows ListProperties. Zero fields do not filter.
type PropertyFilter struct {
	SourceSite string
	Status     models.Status
	From       *time.Time
	To         *time.Time
	Limit      int
}

// ListProperties returns records ordered by auction date, then id.
func (s *PostgresStore) ListProperties(ctx context.Context, f PropertyFilter) ([]*models.PropertyRecord, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.SourceSite != "" {
		add("p.source_site = $%d", f.SourceSite)
	}
	if f.Status != "" {
		add("p.current_status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("p.auction_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("p.auction_date <= $%d", *f.To)
	}

	query := `SELECT ` + propertyColumns + propertyFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY p.auction_date NULLS LAST, p.id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list properties")
	}
	defer rows.Close()

	var out []*models.PropertyRecord
	for rows.Next() {
		rec, err := scanProperty(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan property")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: list properties")
	}
	return out, nil
}

func scanProperty(row pgx.Row) (*models.PropertyRecord, error) {
	var rec models.PropertyRecord
	var propertyType, status string
	err := row.Scan(
		&rec.ID, &rec.CaseNumber, &rec.ItemNumber, &rec.SourceSite, &rec.CourtID,
		&rec.CourtName, &rec.Address, &propertyType, &rec.BuildingName, &rec.LandArea,
		&rec.BuildingArea, &rec.AppraisalValue, &rec.MinimumSalePrice, &rec.BidDeposit,
		&rec.AuctionDate, &rec.AuctionTime, &rec.AuctionDateEstimated,
		&rec.FailureCount, &status, &rec.TenantStatus, &rec.Notes, &rec.SourceURL,
		&rec.LastScrapedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.PropertyType = models.PropertyType(propertyType)
	rec.CurrentStatus = models.Status(status)
	return &rec, nil
}

// auctionDate strips the clock so the DATE column never depends on the
// session time zone.
func auctionDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func writeError(err error, op string, rec *models.PropertyRecord) error {
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateIdentity, "store: %s %s", op, describe(rec))
	}
	return eris.Wrapf(err, "store: %s %s", op, describe(rec))
}

func describe(rec *models.PropertyRecord) string {
	return rec.CaseNumber + "/" + rec.ItemNumber + "@" + rec.SourceSite
}
