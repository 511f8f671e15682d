package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Lease grants one owner exclusive ingestion of a source until ExpiresAt.
type Lease struct {
	SourceSite string
	Owner      string
	ExpiresAt  time.Time
}

// AcquireLease takes the lease for source if it is free or expired.
func (s *PostgresStore) AcquireLease(ctx context.Context, source string, ttl time.Duration) (*Lease, error) {
	now := s.now()
	lease := &Lease{SourceSite: source, Owner: uuid.NewString(), ExpiresAt: now.Add(ttl)}

	var owner string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingestion_leases (source_site, owner, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (source_site) DO UPDATE
		   SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		   WHERE ingestion_leases.expires_at <= $4
		 RETURNING owner`,
		source, lease.Owner, lease.ExpiresAt, now,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrLeaseHeld, "source %s", source)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: acquire lease for %s", source)
	}
	return lease, nil
}

// RenewLease pushes the expiry of a lease still owned by the caller to
// now+ttl. ErrLeaseHeld means another owner took it over.
func (s *PostgresStore) RenewLease(ctx context.Context, lease *Lease, ttl time.Duration) (*Lease, error) {
	renewed := &Lease{SourceSite: lease.SourceSite, Owner: lease.Owner, ExpiresAt: s.now().Add(ttl)}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_leases SET expires_at = $3 WHERE source_site = $1 AND owner = $2`,
		renewed.SourceSite, renewed.Owner, renewed.ExpiresAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: renew lease for %s", lease.SourceSite)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrLeaseHeld, "source %s", lease.SourceSite)
	}
	return renewed, nil
}

// ReleaseLease drops the lease if it is still owned by the caller.
func (s *PostgresStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ingestion_leases WHERE source_site = $1 AND owner = $2`,
		lease.SourceSite, lease.Owner,
	)
	if err != nil {
		return eris.Wrapf(err, "store: release lease for %s", lease.SourceSite)
	}
	return nil
}
