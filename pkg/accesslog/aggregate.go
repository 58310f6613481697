package accesslog

import (
	"sort"
	"time"
)

// MinuteBucket is the per-minute traffic rollup of one proxy host
type MinuteBucket struct {
	ProxyHostID    int
	Start          time.Time
	RequestCount   int64
	ResponseTimeMs float64
}

// HourBucket is the per-hour traffic rollup of one proxy host
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type HourBucket struct {
	ProxyHostID       int
	Start             time.Time
	RequestCount      int64
	BytesSent         int64
	AvgResponseTimeMs float64
	Status2xx         int64
	Status4xx         int64
	Status5xx         int64
}

// Batch is a group of records of one proxy host together with the
// rollup increments they contribute
type Batch struct {
	ProxyHostID int
	Records     []LogRecord
	Minutes     []MinuteBucket
	Hours       []HourBucket
}

// BlendResponseTime is the rollup response time update rule. It is a
// decaying estimate rather than a mean, and must stay consistent with
// the rows already stored.
func BlendResponseTime(stored, incoming float64) float64 {
	return (stored + incoming) / 2
}

// MinuteStart truncates t to the start of its UTC minute
func MinuteStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// HourStart truncates t to the start of its UTC hour
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Merge returns the row resulting from upserting b on top of stored
func (b MinuteBucket) Merge(stored *MinuteBucket) MinuteBucket {
	if stored == nil {
		return b
	}
	merged := *stored
	merged.RequestCount += b.RequestCount
	merged.ResponseTimeMs = BlendResponseTime(stored.ResponseTimeMs, b.ResponseTimeMs)
	return merged
}

// Merge returns the row resulting from upserting b on top of stored
func (b HourBucket) Merge(stored *HourBucket) HourBucket {
	if stored == nil {
		return b
	}
	merged := *stored
	merged.RequestCount += b.RequestCount
	merged.BytesSent += b.BytesSent
	merged.AvgResponseTimeMs = BlendResponseTime(stored.AvgResponseTimeMs, b.AvgResponseTimeMs)
	merged.Status2xx += b.Status2xx
	merged.Status4xx += b.Status4xx
	merged.Status5xx += b.Status5xx
	return merged
}

// Aggregate groups records into minute and hour increments. The
// incoming response time of a bucket is the mean over the records of
// this batch. Buckets are sorted by start time so that concurrent
// writers lock rollup rows in the same order.
func Aggregate(proxyHostID int, records []LogRecord) Batch {
	type minuteAcc struct {
		count       int64
		responseSum int64
	}
	type hourAcc struct {
		minuteAcc
		bytes            int64
		s2xx, s4xx, s5xx int64
	}

	minutes := make(map[time.Time]*minuteAcc)
	hours := make(map[time.Time]*hourAcc)

	for i := range records {
		rec := &records[i]

		m := MinuteStart(rec.Timestamp)
		macc, ok := minutes[m]
		if !ok {
			macc = &minuteAcc{}
			minutes[m] = macc
		}
		macc.count++
		macc.responseSum += int64(rec.ResponseTimeMs)

		h := HourStart(rec.Timestamp)
		hacc, ok := hours[h]
		if !ok {
			hacc = &hourAcc{}
			hours[h] = hacc
		}
		hacc.count++
		hacc.responseSum += int64(rec.ResponseTimeMs)
		hacc.bytes += rec.BytesSent
		switch {
		case rec.StatusCode >= 200 && rec.StatusCode < 300:
			hacc.s2xx++
		case rec.StatusCode >= 400 && rec.StatusCode < 500:
			hacc.s4xx++
		case rec.StatusCode >= 500:
			hacc.s5xx++
		}
	}

	batch := Batch{
		ProxyHostID: proxyHostID,
		Records:     records,
		Minutes:     make([]MinuteBucket, 0, len(minutes)),
		Hours:       make([]HourBucket, 0, len(hours)),
	}
	for start, acc := range minutes {
		batch.Minutes = append(batch.Minutes, MinuteBucket{
			ProxyHostID:    proxyHostID,
			Start:          start,
			RequestCount:   acc.count,
			ResponseTimeMs: float64(acc.responseSum) / float64(acc.count),
		})
	}
	for start, acc := range hours {
		batch.Hours = append(batch.Hours, HourBucket{
			ProxyHostID:       proxyHostID,
			Start:             start,
			RequestCount:      acc.count,
			BytesSent:         acc.bytes,
			AvgResponseTimeMs: float64(acc.responseSum) / float64(acc.count),
			Status2xx:         acc.s2xx,
			Status4xx:         acc.s4xx,
			Status5xx:         acc.s5xx,
		})
	}
	sort.Slice(batch.Minutes, func(i, j int) bool { return batch.Minutes[i].Start.Before(batch.Minutes[j].Start) })
	sort.Slice(batch.Hours, func(i, j int) bool { return batch.Hours[i].Start.Before(batch.Hours[j].Start) })

	return batch
}

// FilterStale drops records with a timestamp before cutoff and returns
// the kept records along with the number dropped
func FilterStale(records []LogRecord, cutoff time.Time) ([]LogRecord, int) {
	kept := make([]LogRecord, 0, len(records))
	for i := range records {
		if records[i].Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, records[i])
	}
	return kept, len(records) - len(kept)
}
