package worker

import (
	"context"
	"time"
)

const defaultDNSRefreshInterval = 5 * time.Minute

// Refresher is the DNS cache capability the refresher drives.
// *dnscache.Resolver implements it.
type Refresher interface {
	Refresh(clearUnused bool)
}

// DNSRefresher keeps the provider transports' DNS cache warm and drops
// hosts that were not looked up since the previous refresh.
type DNSRefresher struct {
	resolver Refresher
	interval time.Duration
}

// NewDNSRefresher creates a refresher. A zero interval uses five minutes.
func NewDNSRefresher(resolver Refresher, interval time.Duration) *DNSRefresher {
	if interval <= 0 {
		interval = defaultDNSRefreshInterval
	}
	return &DNSRefresher{resolver: resolver, interval: interval}
}

// Name returns the worker identifier.
func (d *DNSRefresher) Name() string { return "dns_refresher" }

// Run refreshes on every interval until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.resolver.Refresh(true)
		}
	}
}
