package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/logging"
)

// DefaultPollInterval is how long Next sleeps when no new data is available
const DefaultPollInterval = 100 * time.Millisecond

// Options tune a Tailer
type Options struct {
	// PollInterval bounds the idle wait between read attempts
	PollInterval time.Duration

	// ReopenOnRotate follows rename-and-recreate rotation and truncation.
	// When false the original handle is kept for the life of the Tailer.
	ReopenOnRotate bool

	// DisableWatch turns off fsnotify wake-ups; only the poll interval is used
	DisableWatch bool

	// OnReopen is called with "rotated" or "truncated" after the cursor moves
	// to the start of a new or truncated file
	OnReopen func(reason string)
}

// Tailer follows a single append-only file from its end. It is not safe for
// concurrent use: one goroutine calls Next.
type Tailer struct {
	path    string
	opts    Options
	logger  *logging.Logger
	watcher *fsnotify.Watcher

	file     *os.File
	info     os.FileInfo
	reader   *bufio.Reader
	offset   int64
	pending  []byte
	draining bool
}

// New opens path, which must exist, and positions the cursor at end of file
// so that only lines appended from now on are returned.
func New(path string, opts Options, logger *logging.Logger) (*Tailer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	t := &Tailer{
		path:   filepath.Clean(path),
		opts:   opts,
		logger: logger.WithComponent("tailer"),
	}

	if err := t.open(io.SeekEnd); err != nil {
		return nil, err
	}

	if !opts.DisableWatch {
		t.watcher = t.newWatcher()
	}

	t.logger.Info().Str("path", t.path).Int64("offset", t.offset).Msg("Starting from end of file")
	return t, nil
}

func (t *Tailer) newWatcher() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to create file watcher, polling only")
		return nil
	}

	// Watch the directory so rotation (rename + create) is seen as well as writes.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Warn().Err(err).Str("path", t.path).Msg("Failed to add directory to watcher, polling only")
		watcher.Close()
		return nil
	}
	return watcher
}

// open (re)opens the file at t.path and seeks to whence (io.SeekStart or io.SeekEnd)
func (t *Tailer) open(whence int) error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}

	offset, err := file.Seek(0, whence)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek file: %w", err)
	}

	if t.file != nil {
		t.file.Close()
	}

	t.file = file
	t.info = info
	t.offset = offset
	t.pending = nil
	t.draining = false
	if t.reader == nil {
		t.reader = bufio.NewReader(file)
	} else {
		t.reader.Reset(file)
	}
	return nil
}

// Offset returns the cursor: the byte offset just past the last returned line
func (t *Tailer) Offset() int64 {
	return t.offset
}

// Path returns the tailed path
func (t *Tailer) Path() string {
	return t.path
}

// Next blocks until a complete, newline-terminated line has been appended and
// returns it without the line terminator. Reaching end of file is not the end
// of the sequence: Next waits for more data. It returns only on a line, a read
// error, or context cancellation.
func (t *Tailer) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		chunk, err := t.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			t.pending = append(t.pending, chunk...)
		}

		if err == nil {
			line := trimEOL(t.pending)
			t.offset += int64(len(t.pending))
			t.pending = t.pending[:0]
			return line, nil
		}

		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read %s: %w", t.path, err)
		}

		// Partial data stays in pending until its newline arrives.
		if t.opts.ReopenOnRotate {
			switched, err := t.checkRotation()
			if err != nil {
				t.logger.Warn().Err(err).Str("path", t.path).Msg("Failed to reopen file")
			}
			if switched {
				continue
			}
		}

		if err := t.wait(ctx); err != nil {
			return "", err
		}
	}
}

// Lines returns the infinite sequence of lines produced by Next. The sequence
// ends after yielding the first error.
func (t *Tailer) Lines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, err := t.Next(ctx)
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

// checkRotation compares the open handle against the file currently at path.
// It reports true when the caller should read again right away.
func (t *Tailer) checkRotation() (bool, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Renamed away and not yet recreated: keep reading the old handle.
			return false, nil
		}
		return false, err
	}

	if !os.SameFile(info, t.info) {
		// Give the old handle one more read pass before switching so lines
		// written just before the rename are not lost.
		if !t.draining {
			t.draining = true
			return true, nil
		}

		if len(t.pending) > 0 {
			t.logger.Warn().Str("path", t.path).Int("bytes", len(t.pending)).Msg("Discarding unterminated line from rotated file")
		}
		if err := t.open(io.SeekStart); err != nil {
			return false, err
		}
		t.logger.Info().Str("path", t.path).Msg("File rotation detected")
		t.notify("rotated")
		return true, nil
	}

	if info.Size() < t.offset+int64(len(t.pending)) {
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return false, fmt.Errorf("failed to seek to start: %w", err)
		}
		t.reader.Reset(t.file)
		t.offset = 0
		t.pending = nil
		t.logger.Info().Str("path", t.path).Msg("File truncation detected")
		t.notify("truncated")
		return true, nil
	}

	return false, nil
}

func (t *Tailer) notify(reason string) {
	if t.opts.OnReopen != nil {
		t.opts.OnReopen(reason)
	}
}

// wait sleeps for up to the poll interval, returning early on a write or
// create event for the tailed path
func (t *Tailer) wait(ctx context.Context) error {
	timer := time.NewTimer(t.opts.PollInterval)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if t.watcher != nil {
		events = t.watcher.Events
		errs = t.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			return nil

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if t.matches(event.Name) && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Debug().Err(err).Msg("File watcher error")
		}
	}
}

// matches reports whether a watcher event name refers to the tailed path.
// Event names are joined to the watched directory, so a relative path like
// conn.log arrives as ./conn.log.
func (t *Tailer) matches(name string) bool {
	return filepath.Clean(name) == t.path
}

// Close releases the file handle and watcher
func (t *Tailer) Close() error {
	if t.watcher != nil {
		t.watcher.Close()
	}
	if t.file != nil {
		return t.file.Close()
	}
	return nil
}

func trimEOL(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
		if n > 0 && b[n-1] == '\r' {
			n--
		}
	}
	return string(b[:n])
}
