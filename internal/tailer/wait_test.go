package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitForFileExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	start := time.Now()
	if !WaitForFile(context.Background(), path, time.Second, 500*time.Millisecond) {
		t.Fatal("expected existing file to be ready")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected immediate return, took %v", elapsed)
	}
}

func TestWaitForFileAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")

	go func() {
		time.Sleep(200 * time.Millisecond)
		os.WriteFile(path, nil, 0644)
	}()

	if !WaitForFile(context.Background(), path, 5*time.Second, 50*time.Millisecond) {
		t.Fatal("expected file to become ready")
	}
}

func TestWaitForFileTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.log")

	start := time.Now()
	if WaitForFile(context.Background(), path, 200*time.Millisecond, 50*time.Millisecond) {
		t.Fatal("expected timeout")
	}

	elapsed := time.Since(start)
	if elapsed < 200*time.Millisecond {
		t.Errorf("returned before the timeout elapsed: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("took far longer than the timeout: %v", elapsed)
	}
}

func TestWaitForFileCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.log")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	if WaitForFile(ctx, path, time.Minute, 50*time.Millisecond) {
		t.Fatal("expected false after cancellation")
	}
}
