package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const maxLineBytes = 1 << 20

// Filter reports whether a log line should be shown.
type Filter func(line string) bool

// ForSession matches lines that mention sessionID. An empty id matches all.
func ForSession(sessionID string) Filter {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	return func(line string) bool {
		return strings.Contains(line, sessionID)
	}
}

// Last returns up to n trailing lines of path that pass filter, and the
// offset at which a follower should resume. A missing file yields no lines.
func Last(path string, n int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	counter := &countingReader{r: file}
	scanner := bufio.NewScanner(counter)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var ring []string
	for scanner.Scan() {
		line := scanner.Text()
		if filter != nil && !filter(line) {
			continue
		}
		if n > 0 && len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	return ring, counter.n, nil
}

// Follow polls path every interval starting at offset and calls emit for
// each complete new line that passes filter. It returns when ctx ends.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, filter Filter, emit func(string)) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := readNew(path, offset, filter, emit)
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readNew(path string, offset int64, filter Filter, emit func(string)) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return offset, fmt.Errorf("log path %q is a directory", path)
	}
	size := info.Size()
	if size < offset {
		offset = 0
	}
	if size == offset {
		return offset, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	chunk, err := io.ReadAll(io.LimitReader(file, size-offset))
	if err != nil {
		return offset, fmt.Errorf("read log file: %w", err)
	}

	// A trailing partial line is left for the next poll.
	end := bytes.LastIndexByte(chunk, '\n')
	if end < 0 {
		return offset, nil
	}
	for _, line := range strings.Split(string(chunk[:end]), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if filter != nil && !filter(line) {
			continue
		}
		emit(line)
	}
	return offset + int64(end) + 1, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
