// Package forwarder drives the tail, parse, flatten and publish loop that
// moves records from a growing JSON-lines file into a stream.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/flatten"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/logging"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/output"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/parser"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/tailer"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// ErrFileNotReady is returned by Run when the input file does not appear
// within the wait timeout
var ErrFileNotReady = errors.New("log file not ready")

// State is a step of the forwarding loop
type State int32

const (
	StateWaitingForFile State = iota
	StateTailing
	StateParse
	StateFlatten
	StatePublish
	StateAborted
	StateStopped
)

var stateNames = []string{
	StateWaitingForFile: "waiting_for_file",
	StateTailing:        "tailing",
	StateParse:          "parse",
	StateFlatten:        "flatten",
	StatePublish:        "publish",
	StateAborted:        "aborted",
	StateStopped:        "stopped",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StateNames lists every state name, in order
func StateNames() []string {
	return append([]string(nil), stateNames...)
}

// Config holds the forwarder settings
type Config struct {
	Path           string
	Stream         string
	WaitTimeout    time.Duration
	WaitInterval   time.Duration
	PollInterval   time.Duration
	ReopenOnRotate bool
	DisableWatch   bool

	// RateLimit caps appends per second; zero means unlimited
	RateLimit float64
}

// ConfigFrom extracts the forwarder settings from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Path:           cfg.Input.Path,
		Stream:         cfg.Output.Stream,
		WaitTimeout:    cfg.Input.WaitTimeout,
		WaitInterval:   cfg.Input.WaitInterval,
		PollInterval:   cfg.Input.PollInterval,
		ReopenOnRotate: cfg.Input.ReopenEnabled(),
		RateLimit:      cfg.Output.RateLimit,
	}
}

// Option customises a Forwarder
type Option func(*Forwarder)

// WithMetrics records loop activity in c
func WithMetrics(c *metrics.Collector) Option {
	return func(f *Forwarder) { f.metrics = c }
}

// WithRetry wraps every append in policy
func WithRetry(policy reliability.Policy) Option {
	return func(f *Forwarder) { f.retry = policy }
}

// WithTracer creates a span per append
func WithTracer(tracer trace.Tracer) Option {
	return func(f *Forwarder) { f.tracer = tracer }
}

// Forwarder moves records from the tailed file into the sink, one at a time
// and in file order
type Forwarder struct {
	cfg     Config
	sink    output.Sink
	logger  *logging.Logger
	parser  parser.Parser
	metrics *metrics.Collector
	retry   reliability.Policy
	tracer  trace.Tracer
	limiter *rate.Limiter

	state atomic.Int32
}

// New creates a forwarder publishing into sink
func New(cfg Config, sink output.Sink, logger *logging.Logger, opts ...Option) *Forwarder {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = config.DefaultWaitTimeout
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = config.DefaultWaitInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}

	f := &Forwarder{
		cfg:    cfg,
		sink:   sink,
		logger: logger.WithComponent("forwarder"),
		parser: parser.NewJSONParser(),
		tracer: noop.NewTracerProvider().Tracer("forwarder"),
	}
	for _, opt := range opts {
		opt(f)
	}

	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	onRetry := f.retry.OnRetry
	f.retry.OnRetry = func(attempt int, backoff time.Duration, err error) {
		f.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Str("output", f.sink.Name()).
			Msg("Append failed, retrying")
		if f.metrics != nil {
			f.metrics.OutputRetries.WithLabelValues(f.sink.Name()).Inc()
		}
		if onRetry != nil {
			onRetry(attempt, backoff, err)
		}
	}

	f.setState(StateWaitingForFile)
	return f
}

// State returns the current state. It is safe to call from any goroutine.
func (f *Forwarder) State() State {
	return State(f.state.Load())
}

func (f *Forwarder) setState(s State) {
	f.state.Store(int32(s))
	if f.metrics != nil {
		f.metrics.SetState(s.String(), stateNames)
	}
}

// Run waits for the input file and forwards every line appended to it until
// ctx is cancelled or the sink fails. Cancellation returns ctx.Err().
func (f *Forwarder) Run(ctx context.Context) error {
	f.setState(StateWaitingForFile)
	f.logger.Info().
		Str("path", f.cfg.Path).
		Dur("timeout", f.cfg.WaitTimeout).
		Msg("Waiting for log file")

	if !tailer.WaitForFile(ctx, f.cfg.Path, f.cfg.WaitTimeout, f.cfg.WaitInterval) {
		if err := ctx.Err(); err != nil {
			f.setState(StateStopped)
			return err
		}
		f.setState(StateAborted)
		f.logger.Error().
			Str("path", f.cfg.Path).
			Dur("timeout", f.cfg.WaitTimeout).
			Msg("Log file did not appear")
		return fmt.Errorf("%w: %s not found after %s", ErrFileNotReady, f.cfg.Path, f.cfg.WaitTimeout)
	}

	t, err := tailer.New(f.cfg.Path, tailer.Options{
		PollInterval:   f.cfg.PollInterval,
		ReopenOnRotate: f.cfg.ReopenOnRotate,
		DisableWatch:   f.cfg.DisableWatch,
		OnReopen:       f.onReopen,
	}, f.logger)
	if err != nil {
		f.setState(StateStopped)
		return fmt.Errorf("failed to open %s: %w", f.cfg.Path, err)
	}
	defer t.Close()

	f.logger.Info().
		Str("path", t.Path()).
		Int64("offset", t.Offset()).
		Str("stream", f.cfg.Stream).
		Str("output", f.sink.Name()).
		Msg("Forwarding records")

	for {
		f.setState(StateTailing)

		line, err := t.Next(ctx)
		if err != nil {
			f.setState(StateStopped)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to tail %s: %w", f.cfg.Path, err)
		}

		if f.metrics != nil {
			f.metrics.TailerLinesRead.WithLabelValues(f.cfg.Path).Inc()
			f.metrics.TailerBytesRead.WithLabelValues(f.cfg.Path).Add(float64(len(line)))
		}

		if err := f.handle(ctx, line); err != nil {
			f.setState(StateStopped)
			return err
		}
	}
}

// handle runs one line through parse, flatten and publish. Malformed and
// empty records are skipped; only a publish failure is returned.
func (f *Forwarder) handle(ctx context.Context, line string) error {
	f.setState(StateParse)
	rec, err := f.parser.Parse(line)
	if err != nil {
		reason := parser.Reason(err)
		if f.metrics != nil {
			f.metrics.ParserRecordsFailed.WithLabelValues(f.parser.Name(), reason).Inc()
		}
		f.logger.Debug().Err(err).Str("reason", reason).Msg("Skipping malformed line")
		return nil
	}
	if f.metrics != nil {
		f.metrics.ParserRecordsParsed.WithLabelValues(f.parser.Name()).Inc()
	}

	f.setState(StateFlatten)
	fields, err := flatten.Record(rec)
	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordsSkipped.WithLabelValues("not_object").Inc()
		}
		f.logger.Debug().Err(err).Msg("Skipping record that cannot be flattened")
		return nil
	}
	if len(fields) == 0 {
		if f.metrics != nil {
			f.metrics.RecordsSkipped.WithLabelValues("empty").Inc()
		}
		f.logger.Debug().Msg("Skipping empty record")
		return nil
	}

	f.setState(StatePublish)
	id, err := f.publish(ctx, fields)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("publish to %s: %w", f.sink.Name(), err)
	}

	f.logger.Info().
		Str("stream", f.cfg.Stream).
		Str("id", id).
		Int("fields", len(fields)).
		Msg("Published record")
	return nil
}

func (f *Forwarder) publish(ctx context.Context, fields types.FlatRecord) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	ctx, span := tracing.TracePublish(ctx, f.tracer, f.sink.Name(), f.cfg.Stream, len(fields))

	startTime := time.Now()
	var id string
	err := f.retry.Do(ctx, func(ctx context.Context) error {
		var appendErr error
		id, appendErr = f.sink.Append(ctx, f.cfg.Stream, fields)
		if errors.Is(appendErr, output.ErrClosed) || errors.Is(appendErr, output.ErrEmptyRecord) {
			return reliability.Permanent(appendErr)
		}
		return appendErr
	})
	tracing.EndSpan(span, err)

	if f.metrics != nil {
		f.metrics.OutputDuration.WithLabelValues(f.sink.Name()).Observe(time.Since(startTime).Seconds())
		if err != nil {
			f.metrics.OutputRecordsFailed.WithLabelValues(f.sink.Name(), f.cfg.Stream).Inc()
		} else {
			f.metrics.OutputRecordsSent.WithLabelValues(f.sink.Name(), f.cfg.Stream).Inc()
		}
	}

	return id, err
}

func (f *Forwarder) onReopen(reason string) {
	if f.metrics != nil {
		f.metrics.TailerReopens.WithLabelValues(f.cfg.Path, reason).Inc()
	}
}
