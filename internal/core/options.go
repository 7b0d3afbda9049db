package core

import (
	"context"
	"log/slog"
	"time"

	"drawerstore/internal/blob"
	"drawerstore/internal/capture"
	"drawerstore/internal/clock"
	"drawerstore/internal/museum"
	"drawerstore/pkg/domain"
)

// Logger is the structured logger used by a project handle. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome and latency of project operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer opens a span per project operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

// BlobOpener builds the store captures are written through, given the
// project root.
type BlobOpener func(root string) (blob.Store, error)

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type projectOptions struct {
	clock       clock.Clock
	logger      Logger
	metrics     MetricsRecorder
	tracer      Tracer
	rules       *domain.RulesEngine
	blobs       BlobOpener
	encoder     capture.Encoder
	keying      museum.EditKeying
	lockTimeout time.Duration
}

func defaultProjectOptions() projectOptions {
	return projectOptions{
		clock:       clock.Real(),
		logger:      slog.New(slog.DiscardHandler),
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		rules:       domain.NewRulesEngine(),
		blobs:       func(root string) (blob.Store, error) { return blob.Open(string(blob.DriverFilesystem), root) },
		encoder:     capture.JPEGEncoder{Quality: capture.DefaultJPEGQuality},
		keying:      museum.KeyByOriginal,
		lockTimeout: 5 * time.Second,
	}
}

// Option customises a project handle.
type Option func(*projectOptions)

// WithClock overrides the clock used for session and capture timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *projectOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger overrides the structured logger.
func WithLogger(l Logger) Option {
	return func(o *projectOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *projectOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(o *projectOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRulesEngine sets the engine evaluated when a project is loaded.
// Blocking violations fail the load.
func WithRulesEngine(e *domain.RulesEngine) Option {
	return func(o *projectOptions) { o.rules = e }
}

// WithBlobStore selects how capture blobs are stored.
func WithBlobStore(open BlobOpener) Option {
	return func(o *projectOptions) {
		if open != nil {
			o.blobs = open
		}
	}
}

// WithEncoder replaces the default JPEG capture encoder.
func WithEncoder(e capture.Encoder) Option {
	return func(o *projectOptions) {
		if e != nil {
			o.encoder = e
		}
	}
}

// WithMuseumEditKeying selects how edited museums are keyed.
func WithMuseumEditKeying(k museum.EditKeying) Option {
	return func(o *projectOptions) { o.keying = k }
}

// WithLockTimeout bounds how long an operation waits for the project lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *projectOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}
