package accesslog

import (
	"regexp"
	"time"
)

var timestampPattern = regexp.MustCompile(
	`(\d{2})/(\w{3})/(\d{4}):(\d{2}):(\d{2}):(\d{2})\s+([+-]\d{4})`)

var monthNumbers = map[string]string{
	"Jan": "01", "Feb": "02", "Mar": "03", "Apr": "04", "May": "05", "Jun": "06",
	"Jul": "07", "Aug": "08", "Sep": "09", "Oct": "10", "Nov": "11", "Dec": "12",
}

const isoLayout = "2006-01-02T15:04:05-0700"

// TimestampLayout formats a time the way access logs write it
const TimestampLayout = "02/Jan/2006:15:04:05 -0700"

// ParseTimestamp parses "DD/Mon/YYYY:HH:MM:SS ±ZZZZ". Timestamps are
// best effort: when the value cannot be parsed, now is returned with
// ok set to false instead of rejecting the record. An unknown month
// name is read as January.
func ParseTimestamp(value string, now time.Time) (time.Time, bool) {
	match := timestampPattern.FindStringSubmatch(value)
	if match == nil {
		return now, false
	}

	month, found := monthNumbers[match[2]]
	if !found {
		month = "01"
	}

	iso := match[3] + "-" + month + "-" + match[1] + "T" +
		match[4] + ":" + match[5] + ":" + match[6] + match[7]
	ts, err := time.Parse(isoLayout, iso)
	if err != nil {
		return now, false
	}
	return ts, true
}
