package watcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// DefaultMaxReadBytes bounds how much of one file is read per poll
const DefaultMaxReadBytes = 16 * 1024 * 1024

// FileCursor is the read position of one watched file
type FileCursor struct {
	Path          string
	Offset        int64
	LastKnownSize int64
	// Discarding is set while the rest of an oversized line is skipped
	Discarding bool
}

// Cursors holds the cursor of every watched file
type Cursors struct {
	mu      sync.Mutex
	cursors map[string]FileCursor
}

// NewCursors creates an empty cursor table
func NewCursors() *Cursors {
	return &Cursors{cursors: make(map[string]FileCursor)}
}

// Get returns the cursor of path, or a zero cursor on first sight
func (c *Cursors) Get(path string) FileCursor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cursor, ok := c.cursors[path]; ok {
		return cursor
	}
	return FileCursor{Path: path}
}

// Set stores a cursor
func (c *Cursors) Set(cursor FileCursor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cursors[cursor.Path] = cursor
}

// Delete forgets the cursor of path
func (c *Cursors) Delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cursors, path)
}

// Prune forgets the cursors of files absent from present and returns
// the number of cursors removed
func (c *Cursors) Prune(present []string) int {
	keep := make(map[string]struct{}, len(present))
	for _, path := range present {
		keep[path] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for path := range c.cursors {
		if _, ok := keep[path]; !ok {
			delete(c.cursors, path)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked files
func (c *Cursors) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.cursors)
}

// ReadResult is the outcome of reading the new content of a file
type ReadResult struct {
	// Lines holds the complete, non-empty lines read
	Lines []string
	// Cursor is the position after the last complete line
	Cursor FileCursor
	// Rotated is true when the file shrank below the stored offset
	Rotated bool
	// Discarded counts bytes skipped without producing lines
	Discarded int64
}

// ReadNew reads the complete lines appended to path since cursor.
//
// A file smaller than the cursor offset was rotated or truncated: it is
// read again from the start. A trailing line without its newline is
// left unread until it is completed. At most maxBytes are read, so a
// large backlog is consumed over several polls. A line longer than
// maxBytes is skipped up to its newline.
func ReadNew(path string, cursor FileCursor, maxBytes int64) (ReadResult, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}

	file, err := os.Open(path)
	if err != nil {
		return ReadResult{}, err
	}
	defer file.Close() //nolint:errcheck // read-only file

	info, err := file.Stat()
	if err != nil {
		return ReadResult{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	result := ReadResult{Cursor: cursor}
	result.Cursor.Path = path
	size := info.Size()

	if size < cursor.Offset {
		result.Rotated = true
		result.Cursor.Offset = 0
		result.Cursor.Discarding = false
	}
	result.Cursor.LastKnownSize = size

	if size == result.Cursor.Offset {
		return result, nil
	}

	length := size - result.Cursor.Offset
	if length > maxBytes {
		length = maxBytes
	}

	buf := make([]byte, length)
	n, err := file.ReadAt(buf, result.Cursor.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return ReadResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	buf = buf[:n]

	if result.Cursor.Discarding {
		skip := bytes.IndexByte(buf, '\n')
		if skip < 0 {
			result.Cursor.Offset += int64(n)
			result.Discarded = int64(n)
			return result, nil
		}
		result.Cursor.Offset += int64(skip) + 1
		result.Discarded = int64(skip) + 1
		result.Cursor.Discarding = false
		buf = buf[skip+1:]
	}

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		if int64(len(buf)) == maxBytes {
			// a single line longer than maxBytes can never complete
			result.Cursor.Offset += maxBytes
			result.Discarded = maxBytes
			result.Cursor.Discarding = true
		}
		return result, nil
	}

	for _, line := range strings.Split(string(buf[:end]), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		result.Lines = append(result.Lines, line)
	}
	result.Cursor.Offset += int64(end) + 1
	return result, nil
}
