package accesslog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSourceIP = "0.0.0.0"
	defaultMethod   = "GET"
	defaultProtocol = "HTTP/1.1"
	defaultURL      = "/"
	defaultStatus   = 200

	// MaxFailureSamples is the number of unparseable lines kept per call
	MaxFailureSamples = 3
	// MaxFailureSampleLength bounds each kept sample
	MaxFailureSampleLength = 200
)

// [ts] - s1 s2 - method protocol host "url" [Client ip] [Length n] [Gzip g] [Sent-to u] "ref" "ua"
var primaryPattern = regexp.MustCompile(
	`^\[([^\]]+)\]\s+-\s+(\d+)\s+(\d+)\s+-\s+(\S+)\s+(\S+)\s+(\S+)\s+"([^"]+)"` +
		`\s+\[Client\s+([^\]]+)\]\s+\[Length\s+(\d+)\]\s+\[Gzip\s+([^\]]+)\]` +
		`\s+\[Sent-to\s+([^\]]+)\]\s+"([^"]*)"\s+"([^"]*)"$`)

var (
	relaxedPattern        = regexp.MustCompile(`^\[([^\]]+)\]\s+.*?\[Client\s+([^\]]+)\].*?\[Length\s+(\d+)\]`)
	relaxedRequestPattern = regexp.MustCompile(`\s+(\S+)\s+(\S+)\s+(\S+)\s+"([^"]+)"`)
	relaxedStatusPattern  = regexp.MustCompile(`\s+(\d+)\s+(\d+)\s+`)
)

// ip - user [ts] "method url proto" status bytes "ref" "ua"
var combinedPattern = regexp.MustCompile(
	`^(\S+) - (\S+) \[([^\]]+)\] "(\S+) (\S+) ([^"]+)" (\d+) (\d+) "([^"]*)" "([^"]*)"$`)

// grammar is one parse attempt. Grammars are tried in order and the
// first match wins.
type grammar struct {
	format Format
	parse  func(line string, now time.Time) (LogRecord, bool)
}

// Parser turns raw access log lines into records
type Parser struct {
	now      func() time.Time
	grammars []grammar
}

// NewParser creates a parser using the wall clock for best-effort timestamps
func NewParser() *Parser {
	return NewParserWithClock(time.Now)
}

// NewParserWithClock creates a parser with an injected clock
func NewParserWithClock(now func() time.Time) *Parser {
	return &Parser{
		now: now,
		grammars: []grammar{
			{format: FormatPrimary, parse: parsePrimary},
			{format: FormatRelaxed, parse: parseRelaxed},
			{format: FormatCombined, parse: parseCombined},
		},
	}
}

// Parse parses one line. The second return value is false when no
// grammar matched.
func (p *Parser) Parse(line string) (LogRecord, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return LogRecord{}, false
	}
	now := p.now()
	for _, g := range p.grammars {
		if rec, ok := g.parse(line, now); ok {
			rec.Raw = line
			rec.Format = g.format
			return rec, true
		}
	}
	return LogRecord{}, false
}

// ParseResult is the outcome of parsing a group of lines
type ParseResult struct {
	Records []LogRecord
	// FailCount is the number of lines no grammar matched
	FailCount int
	// FailSamples holds the first few failing lines, truncated
	FailSamples []string
}

// ParseLines parses every line, keeping matched records in input order
func (p *Parser) ParseLines(lines []string) ParseResult {
	result := ParseResult{Records: make([]LogRecord, 0, len(lines))}
	for _, line := range lines {
		rec, ok := p.Parse(line)
		if ok {
			result.Records = append(result.Records, rec)
			continue
		}
		result.FailCount++
		if len(result.FailSamples) < MaxFailureSamples {
			sample := line
			if len(sample) > MaxFailureSampleLength {
				sample = sample[:MaxFailureSampleLength]
			}
			result.FailSamples = append(result.FailSamples, sample)
		}
	}
	return result
}

func parsePrimary(line string, now time.Time) (LogRecord, bool) {
	m := primaryPattern.FindStringSubmatch(line)
	if m == nil {
		return LogRecord{}, false
	}
	ts, _ := ParseTimestamp(m[1], now)
	return LogRecord{
		Timestamp:  ts,
		StatusCode: pickStatus(m[2], m[3]),
		Method:     orDefault(m[4], defaultMethod),
		Protocol:   orDefault(m[5], defaultProtocol),
		Host:       m[6],
		URL:        orDefault(m[7], defaultURL),
		SourceIP:   orDefault(m[8], defaultSourceIP),
		BytesSent:  atoi64(m[9]),
		Upstream:   m[11],
		Referer:    optional(m[12]),
		UserAgent:  optional(m[13]),
	}, true
}

func parseRelaxed(line string, now time.Time) (LogRecord, bool) {
	m := relaxedPattern.FindStringSubmatch(line)
	if m == nil {
		return LogRecord{}, false
	}
	ts, _ := ParseTimestamp(m[1], now)
	rec := LogRecord{
		Timestamp:  ts,
		SourceIP:   orDefault(m[2], defaultSourceIP),
		BytesSent:  atoi64(m[3]),
		Method:     defaultMethod,
		Protocol:   defaultProtocol,
		URL:        defaultURL,
		StatusCode: defaultStatus,
	}
	if req := relaxedRequestPattern.FindStringSubmatch(line); req != nil {
		rec.Method = req[1]
		rec.Protocol = req[2]
		rec.Host = req[3]
		rec.URL = req[4]
	}
	if status := relaxedStatusPattern.FindStringSubmatch(line); status != nil {
		rec.StatusCode = pickStatus(status[1], status[2])
	}
	return rec, true
}

func parseCombined(line string, now time.Time) (LogRecord, bool) {
	m := combinedPattern.FindStringSubmatch(line)
	if m == nil {
		return LogRecord{}, false
	}
	ts, _ := ParseTimestamp(m[3], now)
	return LogRecord{
		SourceIP:   m[1],
		Timestamp:  ts,
		Method:     orDefault(m[4], defaultMethod),
		URL:        orDefault(m[5], defaultURL),
		Protocol:   orDefault(m[6], defaultProtocol),
		StatusCode: pickStatus(m[7], ""),
		BytesSent:  atoi64(m[8]),
		Referer:    optional(m[9]),
		UserAgent:  optional(m[10]),
	}, true
}

// pickStatus takes the first non-zero status, defaulting to 200
func pickStatus(first, second string) int {
	for _, s := range []string{first, second} {
		if n, err := strconv.Atoi(s); err == nil && n != 0 {
			return n
		}
	}
	return defaultStatus
}

func atoi64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func optional(value string) *string {
	if value == "" || value == "-" {
		return nil
	}
	return &value
}
