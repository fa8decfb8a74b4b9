package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

var (
	// ErrClosed is returned by Append after Close
	ErrClosed = errors.New("output is closed")

	// ErrEmptyRecord is returned when asked to append a record with no fields
	ErrEmptyRecord = errors.New("cannot append a record with no fields")
)

// Sink is an append-only, ordered message stream
type Sink interface {
	// Append adds one entry to stream and returns the identifier the
	// transport assigned to it
	Append(ctx context.Context, stream string, fields types.FlatRecord) (string, error)

	// Ping checks that the transport is reachable
	Ping(ctx context.Context) error

	// Close closes the output and releases resources
	Close() error

	// Name returns the name of the output plugin
	Name() string

	// Metrics returns the current metrics for this output
	Metrics() *OutputMetrics
}

// OutputMetrics tracks performance and health metrics for an output
type OutputMetrics struct {
	EventsSent    int64         `json:"events_sent"`
	EventsFailed  int64         `json:"events_failed"`
	BytesSent     int64         `json:"bytes_sent"`
	LastSendTime  time.Time     `json:"last_send_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastErrorTime time.Time     `json:"last_error_time,omitempty"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// stats is the shared bookkeeping behind Metrics
type stats struct {
	mu sync.Mutex
	m  OutputMetrics
}

func (s *stats) success(bytes int, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.EventsSent++
	s.m.BytesSent += int64(bytes)
	s.m.LastSendTime = time.Now()
	if s.m.AvgLatency == 0 {
		s.m.AvgLatency = latency
	} else {
		s.m.AvgLatency = (s.m.AvgLatency + latency) / 2
	}
}

func (s *stats) failure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.EventsFailed++
	s.m.LastError = err.Error()
	s.m.LastErrorTime = time.Now()
}

func (s *stats) snapshot() *OutputMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	metricsCopy := s.m
	return &metricsCopy
}

// fieldBytes is the payload size of a flat record
func fieldBytes(fields types.FlatRecord) int {
	n := 0
	for _, f := range fields {
		n += len(f.Key) + len(f.Value)
	}
	return n
}

// New creates the sink selected by cfg.Type
func New(cfg config.OutputConfig) (Sink, error) {
	switch cfg.Type {
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis output requires configuration")
		}
		return NewRedisOutput(*cfg.Redis)
	case "kafka":
		if cfg.Kafka == nil {
			return nil, fmt.Errorf("kafka output requires configuration")
		}
		return NewKafkaOutput(*cfg.Kafka)
	case "elasticsearch":
		if cfg.Elasticsearch == nil {
			return nil, fmt.Errorf("elasticsearch output requires configuration")
		}
		return NewElasticsearchOutput(*cfg.Elasticsearch)
	case "stdout":
		return NewStdoutOutput(nil), nil
	default:
		return nil, fmt.Errorf("unknown output type: %s", cfg.Type)
	}
}
