package npm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Status checker defaults
const (
	DefaultStatusTimeout = 10 * time.Second
	DefaultStatusPace    = 500 * time.Millisecond
	StatusUserAgent      = "Nginx-Proxy-Manager-Status-Checker/1.0"

	// StatusErrorTimeout is recorded when a probe does not answer in time
	StatusErrorTimeout = "Timeout"
	// StatusErrorDisabled is recorded for disabled hosts and hosts without a domain
	StatusErrorDisabled = "disabled"
)

// HostStatus is the outcome of probing one proxy host. Exactly one of
// StatusCode and Error is set.
type HostStatus struct {
	ProxyHostID int
	StatusCode  *int
	Error       *string
	CheckedAt   time.Time
}

// StatusStore persists probe results
type StatusStore interface {
	UpsertStatus(ctx context.Context, status HostStatus) error
}

// CheckSummary counts the outcome of a CheckAll run
type CheckSummary struct {
	Checked  int
	Failed   int
	Disabled int
}

// StatusCheckerConfig holds status checker configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type StatusCheckerConfig struct {
	Hosts   HostLister
	Store   StatusStore
	Timeout time.Duration
	// Pace is the minimum delay between two probes
	Pace   time.Duration
	Logger *slog.Logger
}

// StatusChecker probes proxy hosts with HEAD requests
type StatusChecker struct {
	hosts   HostLister
	store   StatusStore
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

// NewStatusChecker creates a status checker
func NewStatusChecker(cfg StatusCheckerConfig) *StatusChecker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}
	pace := cfg.Pace
	if pace <= 0 {
		pace = DefaultStatusPace
	}
	return &StatusChecker{
		hosts: cfg.Hosts,
		store: cfg.Store,
		client: &http.Client{
			// the first response is the status, redirects are not followed
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(pace), 1),
		now:     time.Now,
		logger:  cfg.Logger,
	}
}

// Check probes domain and never fails: timeouts and connection errors
// are reported in the Error field of the result
func (c *StatusChecker) Check(ctx context.Context, domain string, sslForced bool) HostStatus {
	scheme := "http"
	if sslForced {
		scheme = "https"
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status := HostStatus{}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, scheme+"://"+domain, nil)
	if err != nil {
		status.Error = errorString(err.Error())
		status.CheckedAt = c.now()
		return status
	}
	req.Header.Set("User-Agent", StatusUserAgent)

	resp, err := c.client.Do(req)
	status.CheckedAt = c.now()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			status.Error = errorString(StatusErrorTimeout)
		} else {
			status.Error = errorString(err.Error())
		}
		return status
	}
	_ = resp.Body.Close()

	code := resp.StatusCode
	status.StatusCode = &code
	return status
}

// CheckAll probes every enabled proxy host one after another and stores
// the results. Only a failure to list the hosts is returned; a failed
// store is logged and the run continues.
func (c *StatusChecker) CheckAll(ctx context.Context) (CheckSummary, error) {
	var summary CheckSummary

	hosts, err := c.hosts.ProxyHosts(ctx)
	if err != nil {
		return summary, err
	}

	c.logger.Info("checking proxy host status", "hostCount", len(hosts))

	for _, host := range hosts {
		var status HostStatus
		domain := host.PrimaryDomain()

		if !bool(host.Enabled) || domain == "" {
			status = HostStatus{Error: errorString(StatusErrorDisabled), CheckedAt: c.now()}
			summary.Disabled++
		} else {
			if err := c.limiter.Wait(ctx); err != nil {
				return summary, err
			}
			status = c.Check(ctx, domain, bool(host.SSLForced))
			summary.Checked++
			if status.Error != nil {
				summary.Failed++
				c.logger.Info("proxy host unreachable",
					"proxyHostId", host.ID,
					"domain", domain,
					"error", *status.Error)
			}
		}

		status.ProxyHostID = host.ID
		if err := c.store.UpsertStatus(ctx, status); err != nil {
			c.logger.Error("failed to store proxy host status",
				"proxyHostId", host.ID,
				"error", err)
		}
	}

	c.logger.Info("proxy host status check completed",
		"checked", summary.Checked,
		"failed", summary.Failed,
		"disabled", summary.Disabled)
	return summary, nil
}

func errorString(s string) *string {
	return &s
}
