package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
)

// Watcher defaults
const (
	DefaultInterval           = time.Second
	DefaultStatsInterval      = 5 * time.Minute
	DefaultMaxConcurrentFiles = 5
)

// Config holds watcher configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type Config struct {
	// LogDir is the directory holding the access logs
	LogDir string
	// Interval is the delay between the starts of two polls
	Interval time.Duration
	// StatsInterval is the delay between two statistics reports
	StatsInterval time.Duration
	// MaxConcurrentFiles bounds the number of files processed at once
	MaxConcurrentFiles int
	// MaxReadBytes bounds how much of one file is read per poll
	MaxReadBytes int64

	Pipeline *Pipeline
	// Cursors is optional; a new table is created when nil
	Cursors *Cursors
	Metrics *Metrics
	Logger  *slog.Logger
}

// PollResult summarizes one poll of the log directory
type PollResult struct {
	Files         int
	Lines         int
	ParseFailures int
	Persisted     int
	Skipped       int
	Rotations     int
	ReadErrors    int
}

// Watcher polls the access logs of a directory and feeds their new
// lines to the pipeline
type Watcher struct {
	pipeline *Pipeline
	cursors  *Cursors
	metrics  *Metrics
	logger   *slog.Logger

	logDir             string
	interval           time.Duration
	statsInterval      time.Duration
	maxConcurrentFiles int
	maxReadBytes       int64

	warnedNoFiles bool
}

// New creates a watcher
func New(cfg Config) *Watcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	statsInterval := cfg.StatsInterval
	if statsInterval <= 0 {
		statsInterval = DefaultStatsInterval
	}
	maxConcurrentFiles := cfg.MaxConcurrentFiles
	if maxConcurrentFiles <= 0 {
		maxConcurrentFiles = DefaultMaxConcurrentFiles
	}
	cursors := cfg.Cursors
	if cursors == nil {
		cursors = NewCursors()
	}

	return &Watcher{
		pipeline:           cfg.Pipeline,
		cursors:            cursors,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger,
		logDir:             cfg.LogDir,
		interval:           interval,
		statsInterval:      statsInterval,
		maxConcurrentFiles: maxConcurrentFiles,
		maxReadBytes:       cfg.MaxReadBytes,
	}
}

// Pipeline returns the pipeline fed by the watcher
func (w *Watcher) Pipeline() *Pipeline {
	return w.pipeline
}

// Cursors returns the cursor table of the watched files
func (w *Watcher) Cursors() *Cursors {
	return w.cursors
}

// Run polls the log directory until ctx is canceled. Polls never
// overlap: the next one starts one interval after the previous one
// started, or immediately when a poll took longer than the interval.
// Statistics are reported every stats interval.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher starting",
		"logDir", w.logDir,
		"intervalMs", w.interval.Milliseconds(),
		"batchSize", w.pipeline.batchSize,
		"statsIntervalMinutes", w.statsInterval.Minutes(),
		"maxConcurrentFiles", w.maxConcurrentFiles)

	statsTicker := time.NewTicker(w.statsInterval)
	defer statsTicker.Stop()

	for {
		pollStart := time.Now()
		w.RunOnce(ctx)

		sleepDuration := w.interval - time.Since(pollStart)
		if sleepDuration < 0 {
			sleepDuration = 0
		}

		timer := time.NewTimer(sleepDuration)
		for waiting := true; waiting; {
			select {
			case <-ctx.Done():
				timer.Stop()
				w.logger.Info("watcher stopping")
				w.pipeline.Stats().Report(w.logger)
				return ctx.Err()

			case <-statsTicker.C:
				w.pipeline.Stats().Report(w.logger)

			case <-timer.C:
				waiting = false
			}
		}
	}
}

// RunOnce polls every access log of the directory once. Files are
// handled in chunks of at most MaxConcurrentFiles; the files of a chunk
// are processed concurrently and chunks one after another.
func (w *Watcher) RunOnce(ctx context.Context) PollResult {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.Files.PollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	paths, err := DiscoverLogFiles(w.logDir)
	if err != nil {
		w.logger.Error("failed to discover log files", "logDir", w.logDir, "error", err)
		return PollResult{}
	}
	if w.metrics != nil {
		w.metrics.Files.Watched.Set(float64(len(paths)))
	}

	if removed := w.cursors.Prune(paths); removed > 0 {
		w.logger.Debug("forgot cursors of removed files", "removed", removed)
	}

	if len(paths) == 0 {
		if !w.warnedNoFiles && w.pipeline.Stats().Idle() {
			w.logger.Warn("no access log files found", "logDir", w.logDir)
			w.warnedNoFiles = true
		}
		return PollResult{}
	}
	w.warnedNoFiles = false

	result := PollResult{Files: len(paths)}
	var mu sync.Mutex

	for chunkStart := 0; chunkStart < len(paths); chunkStart += w.maxConcurrentFiles {
		if ctx.Err() != nil {
			break
		}
		chunk := paths[chunkStart:min(chunkStart+w.maxConcurrentFiles, len(paths))]

		var wg sync.WaitGroup
		for _, path := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fileResult := w.pollFile(ctx, path)

				mu.Lock()
				result.add(fileResult)
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	if result.Lines > 0 {
		w.logger.Debug("poll completed",
			"files", result.Files,
			"lines", result.Lines,
			"persisted", result.Persisted,
			"parseFailures", result.ParseFailures,
			"skipped", result.Skipped,
			"durationMs", time.Since(start).Milliseconds())
	}
	return result
}

func (r *PollResult) add(other PollResult) {
	r.Lines += other.Lines
	r.ParseFailures += other.ParseFailures
	r.Persisted += other.Persisted
	r.Skipped += other.Skipped
	r.Rotations += other.Rotations
	r.ReadErrors += other.ReadErrors
}

// pollFile reads the new lines of one file and processes them. The
// cursor advances past the lines read even when persisting them fails.
func (w *Watcher) pollFile(ctx context.Context, path string) PollResult {
	var result PollResult
	filename := filepath.Base(path)

	read, err := ReadNew(path, w.cursors.Get(path), w.maxReadBytes)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.cursors.Delete(path)
			return result
		}
		result.ReadErrors++
		if w.metrics != nil {
			w.metrics.Files.ReadErrors.Inc()
		}
		w.logger.Error("failed to read log file", "file", filename, "error", err)
		return result
	}

	if read.Rotated {
		result.Rotations++
		if w.metrics != nil {
			w.metrics.Files.Rotations.Inc()
		}
		w.logger.Info("log file rotation detected", "file", filename)
	}
	if read.Discarded > 0 {
		w.logger.Warn("skipped oversized line fragment", "file", filename, "bytes", read.Discarded)
	}

	if len(read.Lines) == 0 {
		w.cursors.Set(read.Cursor)
		return result
	}

	proxyHostID, ok := accesslog.ExtractProxyHostID(filename)
	if !ok {
		// default and fallback logs carry no proxy host id
		w.cursors.Set(read.Cursor)
		if w.metrics != nil {
			w.metrics.Lines.Unattributed.Add(float64(len(read.Lines)))
		}
		return result
	}

	w.logger.Debug("new access log lines",
		"file", filename,
		"proxyHostId", proxyHostID,
		"lines", len(read.Lines))

	processed := w.pipeline.ProcessLines(ctx, proxyHostID, filename, read.Lines)
	w.cursors.Set(read.Cursor)

	result.Lines = processed.Lines
	result.ParseFailures = processed.ParseFailures
	result.Persisted = processed.SuccessCount
	result.Skipped = processed.SkippedCount
	return result
}
