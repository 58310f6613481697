package database

// Table names
const (
	// TableAccessLogs stores one row per parsed request, deduplicated on
	// (proxy_host_id, log_timestamp, url, ip_address, method)
	TableAccessLogs = "access_logs"

	// TableRealtimeTraffic is the per-minute rollup
	TableRealtimeTraffic = "realtime_traffic"

	// TableTrafficStats is the per-hour rollup
	TableTrafficStats = "traffic_stats"

	// TableSecurityEvents is the append-only security event log
	TableSecurityEvents = "security_events"

	// TableIPBlacklist holds at most one row per address
	TableIPBlacklist = "ip_blacklist"

	// TableProxyHostStatus holds the last status probe of each proxy host
	TableProxyHostStatus = "proxy_host_status"
)

