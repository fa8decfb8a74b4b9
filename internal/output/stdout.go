package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// StdoutOutput writes one JSON line per record. Ids mimic Redis stream ids.
type StdoutOutput struct {
	mu     sync.Mutex
	w      io.Writer
	lastMs int64
	seq    int64
	stats  stats
	closed atomic.Bool
}

type stdoutEntry struct {
	Stream string            `json:"stream"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// NewStdoutOutput creates an output writing to w, or os.Stdout when w is nil
func NewStdoutOutput(w io.Writer) *StdoutOutput {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutOutput{w: w}
}

// Append writes the record and returns its generated id
func (s *StdoutOutput) Append(ctx context.Context, stream string, fields types.FlatRecord) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if len(fields) == 0 {
		return "", ErrEmptyRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID(time.Now().UnixMilli())

	data, err := json.Marshal(stdoutEntry{Stream: stream, ID: id, Fields: fields.Map()})
	if err != nil {
		s.stats.failure(err)
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	startTime := time.Now()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		s.stats.failure(err)
		return "", fmt.Errorf("failed to write record: %w", err)
	}

	s.stats.success(len(data), time.Since(startTime))
	return id, nil
}

// nextID returns "<ms>-<seq>", strictly increasing even if the clock stalls
func (s *StdoutOutput) nextID(ms int64) string {
	if ms > s.lastMs {
		s.lastMs = ms
		s.seq = 0
	} else {
		s.seq++
	}
	return fmt.Sprintf("%d-%d", s.lastMs, s.seq)
}

// Ping always succeeds while open
func (s *StdoutOutput) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close marks the output closed
func (s *StdoutOutput) Close() error {
	s.closed.Store(true)
	return nil
}

// Name returns the output name
func (s *StdoutOutput) Name() string {
	return "stdout"
}

// Metrics returns the current metrics
func (s *StdoutOutput) Metrics() *OutputMetrics {
	return s.stats.snapshot()
}
