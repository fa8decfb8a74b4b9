package tailer

import (
	"context"
	"os"
	"time"
)

// DefaultWaitInterval is the existence-check period used by WaitForFile
const DefaultWaitInterval = 500 * time.Millisecond

// WaitForFile polls for path until it exists or timeout has elapsed.
// It reports whether the file appeared. A missing file is an expected
// outcome, so there is no error; a cancelled context reports false.
func WaitForFile(ctx context.Context, path string, timeout, interval time.Duration) bool {
	if exists(path) {
		return true
	}

	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if exists(path) {
				return true
			}
			if time.Since(start) > timeout {
				return false
			}
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
