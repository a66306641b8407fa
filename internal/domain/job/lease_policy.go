package job

import (
	"errors"
	"time"
)

// ErrInvalidLease indicates the configured lease duration is not positive.
var ErrInvalidLease = errors.New("lease must be positive")

// minLease is the shortest lease the claim query will stamp.
const minLease = time.Second

// LeasePolicy decides how long a claimed job is owned before it may be reclaimed.
type LeasePolicy struct {
	lease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy. Leases shorter than a second are raised to one second.
func NewLeasePolicy(lease time.Duration) (*LeasePolicy, error) {
	if lease <= 0 {
		return nil, ErrInvalidLease
	}
	return &LeasePolicy{lease: max(lease.Truncate(time.Second), minLease)}, nil
}

// Duration returns the lease length.
func (p *LeasePolicy) Duration() time.Duration {
	if p == nil {
		return 0
	}
	return p.lease
}

// ExpiresAt returns the lease deadline for a claim made at now.
func (p *LeasePolicy) ExpiresAt(now time.Time) time.Time {
	return now.Add(p.Duration()).UTC()
}

// Expired reports whether a lease stamped at leaseExpiresAt has lapsed by now.
func (p *LeasePolicy) Expired(leaseExpiresAt *time.Time, now time.Time) bool {
	return leaseExpiresAt != nil && leaseExpiresAt.Before(now)
}
