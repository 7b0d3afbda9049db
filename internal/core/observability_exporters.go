package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes per-operation latency totals and outcome
// counters through expvar, for deployments that read /debug/vars instead of
// scraping Prometheus.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]*opStats
}

type opStats struct {
	total    time.Duration
	max      time.Duration
	success  int64
	failures int64
}

// OperationStats is the exported view of one operation.
type OperationStats struct {
	Count     int64   `json:"count"`
	Success   int64   `json:"success"`
	Errors    int64   `json:"errors"`
	TotalMS   float64 `json:"total_ms"`
	MaxMS     float64 `json:"max_ms"`
	AverageMS float64 `json:"avg_ms"`
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	Operations map[string]OperationStats `json:"operations"`
	RecordedAt time.Time                 `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes
// it under name. When name is empty, a unique identifier is generated.
// expvar names are process-global, so a name may be published only once.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("drawerstore_project_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]*opStats)}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationStats, len(r.ops))
	for op, st := range r.ops {
		count := st.success + st.failures
		s := OperationStats{
			Count:   count,
			Success: st.success,
			Errors:  st.failures,
			TotalMS: ms(st.total),
			MaxMS:   ms(st.max),
		}
		if count > 0 {
			s.AverageMS = s.TotalMS / float64(count)
		}
		out[op] = s
	}
	return ExpvarMetricsSnapshot{Operations: out, RecordedAt: time.Now().UTC()}
}

// Observe records a project operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.ops[operation]
	if !ok {
		st = &opStats{}
		r.ops[operation] = st
	}
	st.total += duration
	if duration > st.max {
		st.max = duration
	}
	if success {
		st.success++
	} else {
		st.failures++
	}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes one JSON line per finished span and retains the
// spans for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	now     func() time.Time
}

// NewJSONTracer constructs a tracer writing spans to w. A nil writer only
// retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{enc: enc, now: time.Now}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() {
		entry := JSONTraceEntry{Operation: s.operation, Status: "success", StartedAt: s.started}
		if err != nil {
			entry.Status = "error"
			entry.Error = err.Error()
		}
		entry.EndedAt = s.tracer.now().UTC()
		entry.DurationMS = ms(entry.EndedAt.Sub(s.started))

		s.tracer.mu.Lock()
		defer s.tracer.mu.Unlock()
		s.tracer.entries = append(s.tracer.entries, entry)
		if s.tracer.enc != nil {
			_ = s.tracer.enc.Encode(entry)
		}
	})
}
