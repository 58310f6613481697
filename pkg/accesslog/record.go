package accesslog

import (
	"regexp"
	"strconv"
	"time"
)

// Format identifies the grammar a line was parsed with
type Format string

const (
	// FormatPrimary is the bracketed reverse-proxy format
	FormatPrimary Format = "primary"
	// FormatRelaxed is the bracketed format with missing trailing fields
	FormatRelaxed Format = "relaxed"
	// FormatCombined is the standard combined log format
	FormatCombined Format = "combined"
	// FormatStructured marks records that arrived already structured (webhooks)
	FormatStructured Format = "structured"
)

// Column limits of the raw-row table
const (
	MaxURLLength       = 500
	MaxMethodLength    = 10
	MaxUserAgentLength = 500
	MaxRefererLength   = 500
)

// LogRecord is one parsed access log line
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type LogRecord struct {
	ProxyHostID int
	SourceIP    string
	Timestamp   time.Time

	Method   string
	URL      string
	Protocol string
	Host     string
	Upstream string

	StatusCode     int
	BytesSent      int64
	ResponseTimeMs int

	// nil when the log carried "-" or nothing
	Referer   *string
	UserAgent *string

	Raw    string
	Format Format
}

// UserAgentOrEmpty returns the user agent, or "" when absent
func (r *LogRecord) UserAgentOrEmpty() string {
	if r.UserAgent == nil {
		return ""
	}
	return *r.UserAgent
}

// Truncated returns a copy whose text fields fit the raw-row columns
func (r LogRecord) Truncated() LogRecord {
	r.URL = truncateRunes(r.URL, MaxURLLength)
	r.Method = truncateRunes(r.Method, MaxMethodLength)
	if r.UserAgent != nil {
		ua := truncateRunes(*r.UserAgent, MaxUserAgentLength)
		r.UserAgent = &ua
	}
	if r.Referer != nil {
		ref := truncateRunes(*r.Referer, MaxRefererLength)
		r.Referer = &ref
	}
	return r
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

var proxyHostIDPattern = regexp.MustCompile(`proxy-host-(\d+)`)

// ExtractProxyHostID returns the proxy host id embedded in a log file
// name such as "proxy-host-7_access.log". Names without an id, or with
// id 0, report false.
func ExtractProxyHostID(filename string) (int, bool) {
	match := proxyHostIDPattern.FindStringSubmatch(filename)
	if match == nil {
		return 0, false
	}
	id, err := strconv.Atoi(match[1])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
