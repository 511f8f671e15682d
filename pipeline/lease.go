package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-auction-ingest/store"
)

// Leaser grants per-source run leases.
type Leaser interface {
	AcquireLease(ctx context.Context, source string, ttl time.Duration) (*store.Lease, error)
	ReleaseLease(ctx context.Context, lease *store.Lease) error
	// RenewLease pushes the expiry of a lease the caller still owns to
	// now+ttl. A lease owned by someone else yields store.ErrLeaseHeld.
	RenewLease(ctx context.Context, lease *store.Lease, ttl time.Duration) (*store.Lease, error)
}

// MemoryLeaser is an in-process Leaser for single-binary deployments.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[string]store.Lease
	now    func() time.Time
}

// NewMemoryLeaser returns an empty in-process leaser.
func NewMemoryLeaser(now func() time.Time) *MemoryLeaser {
	if now == nil {
		now = time.Now
	}
	return &MemoryLeaser{leases: make(map[string]store.Lease), now: now}
}

// AcquireLease takes the lease for source unless an unexpired one exists.
func (m *MemoryLeaser) AcquireLease(_ context.Context, source string, ttl time.Duration) (*store.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[source]; ok && held.ExpiresAt.After(now) {
		return nil, eris.Wrapf(store.ErrLeaseHeld, "source %s", source)
	}
	lease := store.Lease{SourceSite: source, Owner: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[source] = lease
	return &lease, nil
}

// RenewLease extends a lease the caller still owns.
func (m *MemoryLeaser) RenewLease(_ context.Context, lease *store.Lease, ttl time.Duration) (*store.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.leases[lease.SourceSite]
	if !ok || held.Owner != lease.Owner {
		return nil, eris.Wrapf(store.ErrLeaseHeld, "source %s", lease.SourceSite)
	}
	held.ExpiresAt = m.now().Add(ttl)
	m.leases[lease.SourceSite] = held
	return &held, nil
}

// ReleaseLease drops the lease if the caller still owns it.
func (m *MemoryLeaser) ReleaseLease(_ context.Context, lease *store.Lease) error {
	if lease == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.leases[lease.SourceSite]; ok && held.Owner == lease.Owner {
		delete(m.leases, lease.SourceSite)
	}
	return nil
}

// leaseKeeper renews a run's lease once half its TTL has elapsed.
type leaseKeeper struct {
	leaser Leaser
	lease  *store.Lease
	ttl    time.Duration
	now    func() time.Time
}

// keep renews the lease when due. Losing the lease to another owner wraps
// ErrLeaseLost; other failures are returned as is and leave the lease alone.
func (k *leaseKeeper) keep(ctx context.Context) error {
	if k == nil || k.lease == nil || k.ttl <= 0 {
		return nil
	}
	if k.lease.ExpiresAt.Sub(k.now()) > k.ttl/2 {
		return nil
	}
	renewed, err := k.leaser.RenewLease(ctx, k.lease, k.ttl)
	if errors.Is(err, store.ErrLeaseHeld) {
		return eris.Wrapf(ErrLeaseLost, "source %s", k.lease.SourceSite)
	}
	if err != nil {
		return err
	}
	k.lease = renewed
	return nil
}
