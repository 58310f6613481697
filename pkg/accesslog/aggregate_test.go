package accesslog_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

var _ = Describe("Aggregate", func() {
	base := time.Date(2025, 11, 27, 10, 15, 0, 0, time.UTC)

	record := func(offset time.Duration, status int, bytes int64, rt int) accesslog.LogRecord {
		return accesslog.LogRecord{
			ProxyHostID:    7,
			Timestamp:      base.Add(offset),
			StatusCode:     status,
			BytesSent:      bytes,
			ResponseTimeMs: rt,
		}
	}

	It("should count N records of one minute into one minute bucket", func() {
		records := []accesslog.LogRecord{
			record(1*time.Second, 200, 10, 0),
			record(20*time.Second, 200, 10, 0),
			record(59*time.Second, 200, 10, 0),
		}
		batch := accesslog.Aggregate(7, records)
		Expect(batch.Minutes).To(HaveLen(1))
		Expect(batch.Minutes[0].Start).To(Equal(base))
		Expect(batch.Minutes[0].RequestCount).To(Equal(int64(3)))
		Expect(batch.Minutes[0].ProxyHostID).To(Equal(7))
	})

	It("should split minutes and accumulate hour counters", func() {
		records := []accesslog.LogRecord{
			record(0, 200, 100, 10),
			record(2*time.Minute, 404, 50, 30),
			record(3*time.Minute, 503, 25, 50),
			record(4*time.Minute, 301, 5, 0),
		}
		batch := accesslog.Aggregate(7, records)
		Expect(batch.Minutes).To(HaveLen(4))
		Expect(batch.Minutes[0].Start.Before(batch.Minutes[1].Start)).To(BeTrue())

		Expect(batch.Hours).To(HaveLen(1))
		hour := batch.Hours[0]
		Expect(hour.Start).To(Equal(time.Date(2025, 11, 27, 10, 0, 0, 0, time.UTC)))
		Expect(hour.RequestCount).To(Equal(int64(4)))
		Expect(hour.BytesSent).To(Equal(int64(180)))
		Expect(hour.Status2xx).To(Equal(int64(1)))
		Expect(hour.Status4xx).To(Equal(int64(1)))
		Expect(hour.Status5xx).To(Equal(int64(1)))
		Expect(hour.AvgResponseTimeMs).To(Equal(22.5))
	})

	It("should bucket by UTC regardless of the record's zone", func() {
		zone := time.FixedZone("KST", 9*3600)
		rec := accesslog.LogRecord{Timestamp: time.Date(2025, 11, 27, 19, 15, 30, 0, zone)}
		batch := accesslog.Aggregate(1, []accesslog.LogRecord{rec})
		Expect(batch.Minutes[0].Start).To(Equal(base))
	})
})

var _ = Describe("Bucket merge", func() {
	It("should blend response time as (old+new)/2 rather than a running mean", func() {
		stored := accesslog.MinuteBucket{RequestCount: 10, ResponseTimeMs: 100}
		incoming := accesslog.MinuteBucket{RequestCount: 1, ResponseTimeMs: 300}

		merged := incoming.Merge(&stored)
		Expect(merged.RequestCount).To(Equal(int64(11)))
		Expect(merged.ResponseTimeMs).To(Equal(200.0))

		again := incoming.Merge(&merged)
		Expect(again.ResponseTimeMs).To(Equal(250.0))
	})

	It("should insert the incoming hour bucket when nothing is stored", func() {
		incoming := accesslog.HourBucket{RequestCount: 2, BytesSent: 5, Status2xx: 2}
		Expect(incoming.Merge(nil)).To(Equal(incoming))
	})

	It("should accumulate hour counters", func() {
		stored := accesslog.HourBucket{RequestCount: 1, BytesSent: 10, Status4xx: 1, AvgResponseTimeMs: 0}
		incoming := accesslog.HourBucket{RequestCount: 2, BytesSent: 5, Status2xx: 2, AvgResponseTimeMs: 40}

		merged := incoming.Merge(&stored)
		Expect(merged.RequestCount).To(Equal(int64(3)))
		Expect(merged.BytesSent).To(Equal(int64(15)))
		Expect(merged.Status2xx).To(Equal(int64(2)))
		Expect(merged.Status4xx).To(Equal(int64(1)))
		Expect(merged.AvgResponseTimeMs).To(Equal(20.0))
	})
})

var _ = Describe("FilterStale", func() {
	It("should drop records older than the cutoff", func() {
		now := time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC)
		cutoff := now.AddDate(0, 0, -7)
		records := []accesslog.LogRecord{
			{Timestamp: now.AddDate(0, 0, -8), URL: "/old"},
			{Timestamp: now.AddDate(0, 0, -1), URL: "/new"},
			{Timestamp: cutoff, URL: "/edge"},
		}
		kept, skipped := accesslog.FilterStale(records, cutoff)
		Expect(skipped).To(Equal(1))
		Expect(kept).To(HaveLen(2))
		Expect(kept[0].URL).To(Equal("/new"))
	})
})
