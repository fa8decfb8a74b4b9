package forwarder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/output"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

type fakeSink struct {
	mu       sync.Mutex
	records  []types.FlatRecord
	calls    int
	failNext int
	err      error
}

func (s *fakeSink) Append(ctx context.Context, stream string, fields types.FlatRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failNext > 0 {
		s.failNext--
		return "", errors.New("temporarily unavailable")
	}
	if s.err != nil {
		return "", s.err
	}
	s.records = append(s.records, fields)
	return fmt.Sprintf("%d-0", len(s.records)), nil
}

func (s *fakeSink) Ping(ctx context.Context) error { return nil }
func (s *fakeSink) Close() error { return nil }
func (s *fakeSink) Name() string { return "fake" }
func (s *fakeSink) Metrics() *output.OutputMetrics { return &output.OutputMetrics{} }

func (s *fakeSink) published() []types.FlatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.FlatRecord(nil), s.records...)
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig(path string) Config {
	return Config{
		Path:           path,
		Stream:         "zeek:conn",
		WaitTimeout:    5 * time.Second,
		WaitInterval:   10 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ReopenOnRotate: true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
	}
}

// start runs f in the background and returns a function that cancels it and
// returns Run's error
func start(t *testing.T, f *Forwarder) (stop func() error, done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	t.Cleanup(cancel)
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}, errCh
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("failed to read metric: %v", err)
	}
	return m.Counter.GetValue()
}

func TestForwarderEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	sink := &fakeSink{}
	f := New(testConfig(path), sink, nil)

	stop, _ := start(t, f)

	time.Sleep(50 * time.Millisecond)
	if got := f.State(); got != StateWaitingForFile {
		t.Fatalf("expected %s before the file exists, got %s", StateWaitingForFile, got)
	}

	// Existing content must not be forwarded. Rename so the file appears
	// with its content already in place.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(`{"id":0,"old":true}`+"\n"), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	waitFor(t, "tailing", func() bool { return f.State() == StateTailing })

	appendLines(t, path, `{"id":1,"ok":true,"tags":["a","b"]}`)
	waitFor(t, "one record", func() bool { return len(sink.published()) == 1 })

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := f.State(); got != StateStopped {
		t.Errorf("expected %s, got %s", StateStopped, got)
	}

	rec := sink.published()[0]
	want := map[string]string{"id": "1", "ok": "True", "tags": `["a", "b"]`}
	got := rec.Map()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestForwarderSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	appendLines(t, path)

	sink := &fakeSink{}
	collector := metrics.NewCollector()
	f := New(testConfig(path), sink, nil, WithMetrics(collector))

	stop, _ := start(t, f)
	waitFor(t, "tailing", func() bool { return f.State() == StateTailing })

	appendLines(t, path,
		`not json`,
		`{"bad":+1}`,
		`{"lead":01}`,
		`{"f":.5}`,
		`{"f":nan}`,
		`{"f":Infinity}`,
		`[1, 2, 3]`,
		``,
		`{}`,
		`{"uid":"C1","duration":1.5}`,
	)
	waitFor(t, "one record", func() bool { return len(sink.published()) == 1 })

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if got, _ := sink.published()[0].Get("duration"); got != "1.5" {
		t.Errorf("expected duration 1.5, got %q", got)
	}
	if sink.callCount() != 1 {
		t.Errorf("expected exactly one append, got %d", sink.callCount())
	}

	tests := []struct {
		name   string
		metric prometheus.Counter
		want   float64
	}{
		{"invalid json", collector.ParserRecordsFailed.WithLabelValues("json", "invalid_json"), 6},
		{"not object", collector.ParserRecordsFailed.WithLabelValues("json", "not_object"), 1},
		{"empty line", collector.ParserRecordsFailed.WithLabelValues("json", "empty"), 1},
		{"empty record", collector.RecordsSkipped.WithLabelValues("empty"), 1},
		{"lines read", collector.TailerLinesRead.WithLabelValues(path), 10},
		{"sent", collector.OutputRecordsSent.WithLabelValues("fake", "zeek:conn"), 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.metric); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestForwarderMalformedBetweenValid(t *testing.T) {
	tests := []struct {
		name string
		bad  string
	}{
		{"garbage", `not valid json{{{`},
		{"plus sign", `{"bad":+1}`},
		{"leading zero", `{"lead":01}`},
		{"bare fraction", `{"f":.5}`},
		{"nan", `{"f":nan}`},
		{"Infinity", `{"f":Infinity}`},
		{"unpaired surrogate", `{"s":["\ud800"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conn.log")
			appendLines(t, path)

			sink := &fakeSink{}
			f := New(testConfig(path), sink, nil)

			stop, _ := start(t, f)
			waitFor(t, "tailing", func() bool { return f.State() == StateTailing })

			appendLines(t, path, `{"n":1}`, tt.bad, `{"n":2}`)
			waitFor(t, "two records", func() bool { return len(sink.published()) == 2 })

			if err := stop(); !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
			if sink.callCount() != 2 {
				t.Fatalf("expected exactly two appends, got %d", sink.callCount())
			}
			for i, rec := range sink.published() {
				got := rec.Map()
				if len(got) != 1 || got["n"] != strconv.Itoa(i+1) {
					t.Errorf("record %d: expected n=%d only, got %v", i, i+1, got)
				}
			}
		})
	}
}

func TestForwarderPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	appendLines(t, path, `{"seq":-1}`)

	sink := &fakeSink{}
	f := New(testConfig(path), sink, nil)

	stop, _ := start(t, f)
	waitFor(t, "tailing", func() bool { return f.State() == StateTailing })

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf(`{"seq":%d}`, i))
	}
	appendLines(t, path, lines...)
	waitFor(t, "20 records", func() bool { return len(sink.published()) == 20 })
	stop()

	for i, rec := range sink.published() {
		if got, _ := rec.Get("seq"); got != strconv.Itoa(i) {
			t.Fatalf("record %d: expected seq %d, got %q", i, i, got)
		}
	}
}

func TestForwarderWaitTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.log")
	sink := &fakeSink{}

	cfg := testConfig(path)
	cfg.WaitTimeout = 50 * time.Millisecond
	f := New(cfg, sink, nil)

	err := f.Run(context.Background())
	if !errors.Is(err, ErrFileNotReady) {
		t.Fatalf("expected ErrFileNotReady, got %v", err)
	}
	if f.State() != StateAborted {
		t.Errorf("expected %s, got %s", StateAborted, f.State())
	}
	if sink.callCount() != 0 {
		t.Errorf("expected no appends, got %d", sink.callCount())
	}
}

func TestForwarderCancelWhileWaiting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.log")
	f := New(testConfig(path), &fakeSink{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := f.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if f.State() != StateStopped {
		t.Errorf("expected %s, got %s", StateStopped, f.State())
	}
}

func TestForwarderSinkFailureIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	appendLines(t, path)

	boom := errors.New("connection refused")
	sink := &fakeSink{err: boom}
	f := New(testConfig(path), sink, nil)

	_, done := start(t, f)
	waitFor(t, "tailing", func() bool { return f.State() == StateTailing })
	appendLines(t, path, `{"id":1}`, `{"id":2}`)

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected sink error, got %v", err)
		}
		if !strings.Contains(err.Error(), "publish to fake") {
			t.Errorf("expected error context, got %q", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on sink failure")
	}

	if f.State() != StateStopped {
		t.Errorf("expected %s, got %s", StateStopped, f.State())
	}
	if sink.callCount() != 1 {
		t.Errorf("expected the loop to stop at the first failure, got %d calls", sink.callCount())
	}
}

func TestForwarderRetryRecovers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.log")
	appendLines(t, path)

	sink := &fakeSink{failNext: 2}
	collector := metrics.NewCollector()
	f := New(testConfig(path), sink, nil,
		WithMetrics(collector),
		WithRetry(reliability.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond}),
	)

	stop, _ := start(t, f)
	waitFor(t, "tailing", func() bool { return f.State() == StateTailing })
	appendLines(t, path, `{"id":1}`)
	waitFor(t, "one record", func() bool { return len(sink.published()) == 1 })
	stop()

	if sink.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", sink.callCount())
	}
	if got := counterValue(t, collector.OutputRetries.WithLabelValues("fake")); got != 2 {
		t.Errorf("expected 2 retries, got %v", got)
	}
}

func TestForwarderToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())

	sink, err := output.NewRedisOutput(config.RedisOutputConfig{Host: mr.Host(), Port: port})
	if err != nil {
		t.Fatalf("NewRedisOutput() error = %v", err)
	}
	defer sink.Close()

	path := filepath.Join(t.TempDir(), "conn.log")
	appendLines(t, path)

	f := New(testConfig(path), sink, nil)
	stop, _ := start(t, f)
	waitFor(t, "tailing", func() bool { return f.State() == StateTailing })

	appendLines(t, path, `{"id":1,"ok":true,"tags":["a","b"]}`)
	waitFor(t, "stream entry", func() bool {
		entries, err := mr.Stream("zeek:conn")
		return err == nil && len(entries) == 1
	})
	stop()

	entries, _ := mr.Stream("zeek:conn")
	want := []string{"id", "1", "ok", "True", "tags", `["a", "b"]`}
	got := entries[0].Values
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateWaitingForFile, "waiting_for_file"},
		{StatePublish, "publish"},
		{StateAborted, "aborted"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if len(StateNames()) != 7 {
		t.Errorf("expected 7 states, got %d", len(StateNames()))
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Output.RateLimit = 50

	fc := ConfigFrom(cfg)
	if fc.Path != config.DefaultLogPath || fc.Stream != config.DefaultStream {
		t.Errorf("unexpected path/stream: %+v", fc)
	}
	if !fc.ReopenOnRotate {
		t.Error("expected rotation to be followed by default")
	}
	if fc.RateLimit != 50 {
		t.Errorf("expected rate limit 50, got %v", fc.RateLimit)
	}
}
