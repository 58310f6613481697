package watcher

import (
	"context"
	"log/slog"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Submitter accepts records for best-effort security screening
type Submitter interface {
	Submit(proxyHostID int, rec accesslog.LogRecord) bool
}

// ProcessResult is the outcome of processing a group of lines or records
type ProcessResult struct {
	BatchResult
	Lines         int `json:"lines"`
	ParseFailures int `json:"parseFailures"`
	Batches       int `json:"batches"`
}

// PipelineConfig holds pipeline configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type PipelineConfig struct {
	Parser    *accesslog.Parser
	Persister *Persister
	// Screener is optional
	Screener  Submitter
	BatchSize int
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Pipeline parses lines of one proxy host, submits them for screening
// and persists them in batches
type Pipeline struct {
	parser    *accesslog.Parser
	persister *Persister
	screener  Submitter
	metrics   *Metrics
	logger    *slog.Logger
	batchSize int
}

// NewPipeline creates a pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	parser := cfg.Parser
	if parser == nil {
		parser = accesslog.NewParser()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		parser:    parser,
		persister: cfg.Persister,
		screener:  cfg.Screener,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		batchSize: batchSize,
	}
}

// Stats returns the counters updated by the pipeline
func (p *Pipeline) Stats() *Stats {
	return p.persister.Stats()
}

// ProcessLines parses lines read for proxyHostID and persists the
// records. Lines matching no grammar are counted and sampled in the
// log.
func (p *Pipeline) ProcessLines(ctx context.Context, proxyHostID int, source string,
	lines []string) ProcessResult {
	if p.metrics != nil {
		p.metrics.Lines.Read.Add(float64(len(lines)))
	}

	parsed := p.parser.ParseLines(lines)
	if parsed.FailCount > 0 {
		p.persister.Stats().RecordParseFailures(parsed.FailCount)
		if p.metrics != nil {
			p.metrics.Lines.Failed.Add(float64(parsed.FailCount))
		}
		p.logger.Warn("lines matching no known format",
			"proxyHostId", proxyHostID,
			"source", source,
			"failed", parsed.FailCount,
			"samples", parsed.FailSamples)
	}

	result := p.ProcessRecords(ctx, proxyHostID, parsed.Records)
	result.Lines = len(lines)
	result.ParseFailures = parsed.FailCount
	return result
}

// ProcessRecords submits records for screening and persists them in
// batches. Batch n+1 is persisted only once batch n is done. Stale
// records are neither screened nor persisted.
func (p *Pipeline) ProcessRecords(ctx context.Context, proxyHostID int,
	records []accesslog.LogRecord) ProcessResult {
	result := ProcessResult{Lines: len(records)}

	cutoff := p.persister.Cutoff()
	for i := range records {
		records[i].ProxyHostID = proxyHostID
		if p.metrics != nil {
			p.metrics.Lines.Parsed.WithLabelValues(string(records[i].Format)).Inc()
		}
		if p.screener != nil && !records[i].Timestamp.Before(cutoff) {
			p.screener.Submit(proxyHostID, records[i])
		}
	}

	for start := 0; start < len(records); start += p.batchSize {
		end := min(start+p.batchSize, len(records))
		batch := p.persister.Persist(ctx, proxyHostID, records[start:end])
		result.SuccessCount += batch.SuccessCount
		result.TotalCount += batch.TotalCount
		result.SkippedCount += batch.SkippedCount
		result.Batches++
	}
	return result
}
