package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Number is an integer field that senders may encode either as a JSON
// number or as a numeric string
type Number struct {
	Value int64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	text := string(data)
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
		if text == "" {
			*n = Number{}
			return nil
		}
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	*n = Number{Value: int64(value), Set: true}
	return nil
}

// Positive returns the value when it was set to a positive number
func (n Number) Positive() (int64, bool) {
	return n.Value, n.Set && n.Value > 0
}

// LogLinesRequest is the body of a log-parser request
type LogLinesRequest struct {
	LogLine     string   `json:"logLine"`
	LogLines    []string `json:"logLines"`
	ProxyHostID Number   `json:"proxyHostId"`
	Host        string   `json:"host"`
	Filename    string   `json:"filename"`
}

// Lines returns logLines when present, else logLine
func (r *LogLinesRequest) Lines() []string {
	if len(r.LogLines) > 0 {
		return r.LogLines
	}
	if strings.TrimSpace(r.LogLine) != "" {
		return []string{r.LogLine}
	}
	return nil
}

// TrafficRequest is the body of a webhook or collect request. Several
// fields accept alternative names.
type TrafficRequest struct {
	ProxyHostID Number `json:"proxyHostId"`
	Host        string `json:"host"`

	URL    string `json:"url"`
	Path   string `json:"path"`
	Method string `json:"method"`

	StatusCode Number `json:"statusCode"`
	Status     Number `json:"status"`

	ResponseTime   Number `json:"responseTime"`
	ResponseTimeMs Number `json:"response_time_ms"`
	BytesSent      Number `json:"bytesSent"`
	BytesSentAlt   Number `json:"bytes_sent"`

	IPAddress    string `json:"ipAddress"`
	UserAgent    string `json:"userAgent"`
	UserAgentAlt string `json:"user_agent"`
	Referer      string `json:"referer"`
	Referrer     string `json:"referrer"`
}

// Record builds the access log record described by the request. Values
// missing from the body fall back to the request headers, then to
// defaults.
func (t *TrafficRequest) Record(r *http.Request, now time.Time) accesslog.LogRecord {
	rec := accesslog.LogRecord{
		SourceIP:   firstNonEmpty(ClientIP(r), t.IPAddress, defaultSourceIP),
		Timestamp:  now,
		Method:     strings.ToUpper(firstNonEmpty(t.Method, http.MethodGet)),
		URL:        firstNonEmpty(t.URL, t.Path, "/"),
		Protocol:   defaultProtocol,
		Host:       t.Host,
		StatusCode: int(firstPositive(t.StatusCode, t.Status, Number{Value: http.StatusOK, Set: true})),
		BytesSent:  firstPositive(t.BytesSent, t.BytesSentAlt),
		Format:     accesslog.FormatStructured,
	}
	rec.ResponseTimeMs = int(firstPositive(t.ResponseTime, t.ResponseTimeMs))

	if ua := firstNonEmpty(t.UserAgent, t.UserAgentAlt, r.UserAgent()); ua != "" {
		rec.UserAgent = &ua
	}
	if ref := firstNonEmpty(t.Referer, t.Referrer, r.Referer()); ref != "" {
		rec.Referer = &ref
	}
	return rec
}

const (
	defaultSourceIP = "0.0.0.0"
	defaultProtocol = "HTTP/1.1"
)

// ClientIP returns the first X-Forwarded-For address, else X-Real-IP,
// else ""
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

// HostCandidates returns the domains a request may belong to, in
// lookup order: the Host header, X-Forwarded-Host, then the body host
func HostCandidates(r *http.Request, bodyHost string) []string {
	var candidates []string
	for _, value := range []string{r.Host, r.Header.Get("X-Forwarded-Host"), bodyHost} {
		first, _, _ := strings.Cut(value, ",")
		if host := strings.TrimSpace(first); host != "" {
			candidates = append(candidates, host)
		}
	}
	return candidates
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func firstPositive(values ...Number) int64 {
	for _, value := range values {
		if v, ok := value.Positive(); ok {
			return v
		}
	}
	return 0
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes)).Decode(v)
}
