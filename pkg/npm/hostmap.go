package npm

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultHostMapTTL is how long a fetched domain map is reused
const DefaultHostMapTTL = 5 * time.Minute

// HostMap resolves request domains to proxy host ids. The domain map
// is fetched from the proxy manager and cached for a TTL; when a
// refresh fails the previous map keeps being served. Lookups never
// wait on a refresh once a first map is loaded.
type HostMap struct {
	lister HostLister
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	// refreshMu serializes fetches; mu guards the map
	refreshMu sync.Mutex
	mu        sync.Mutex
	domains   map[string]int
	fetchedAt time.Time
}

// NewHostMap creates a host map. A non-positive ttl uses DefaultHostMapTTL.
func NewHostMap(lister HostLister, ttl time.Duration, logger *slog.Logger) *HostMap {
	if ttl <= 0 {
		ttl = DefaultHostMapTTL
	}
	return &HostMap{
		lister: lister,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Resolve returns the proxy host id serving domain. Domains are
// compared case-insensitively and a port suffix is ignored.
func (m *HostMap) Resolve(ctx context.Context, domain string) (int, bool) {
	key := normalizeDomain(domain)
	if key == "" {
		return 0, false
	}

	loaded, stale := m.state()
	switch {
	case !loaded:
		m.refreshMu.Lock()
		if loaded, _ = m.state(); !loaded {
			m.fetch(ctx)
		}
		m.refreshMu.Unlock()
	case stale && m.refreshMu.TryLock():
		// another lookup already refreshing keeps serving the old map
		if _, stale = m.state(); stale {
			m.fetch(ctx)
		}
		m.refreshMu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.domains[key]
	return id, ok
}

// Refresh fetches the domain map now
func (m *HostMap) Refresh(ctx context.Context) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	m.fetch(ctx)
}

func (m *HostMap) state() (loaded, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domains != nil, m.domains == nil || m.now().Sub(m.fetchedAt) >= m.ttl
}

// fetch must be called with refreshMu held
func (m *HostMap) fetch(ctx context.Context) {
	hosts, err := m.lister.ProxyHosts(ctx)
	if err != nil {
		m.logger.Warn("failed to refresh proxy host map", "error", err)
		m.mu.Lock()
		if m.domains == nil {
			m.domains = map[string]int{}
		}
		// retry on the next lookup after a full TTL
		m.fetchedAt = m.now()
		m.mu.Unlock()
		return
	}

	domains := make(map[string]int)
	for _, host := range hosts {
		for _, name := range host.DomainNames {
			domains[normalizeDomain(name)] = host.ID
		}
	}
	m.mu.Lock()
	m.domains = domains
	m.fetchedAt = m.now()
	m.mu.Unlock()
	m.logger.Debug("proxy host map refreshed", "domainCount", len(domains))
}

func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if host, _, err := net.SplitHostPort(domain); err == nil {
		domain = host
	}
	return strings.ToLower(domain)
}
