package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SamplingConfig configures log sampling. A busy worker emits one progress
// line per module per scan; sampling keeps repeated lines bounded without
// losing the first occurrences or any errors.
type SamplingConfig struct {
	// Enabled turns sampling on. Off by default.
	Enabled bool

	// Tick is the counter-reset interval (default 1s).
	Tick time.Duration

	// Threshold is how many identical records pass per tick before sampling
	// applies (default 100).
	Threshold uint64

	// Rate is the pass rate after the threshold, in [0.0, 1.0] (default 0.1).
	Rate float64

	// ErrorRate is the pass rate for warn/error records (default 1.0).
	ErrorRate float64

	// MaxCounterSize bounds the number of distinct record keys tracked per
	// tick (default 10000).
	MaxCounterSize int

	// NeverSampleMessages lists message prefixes exempt from sampling, e.g.
	// cancellation and dead-letter audit lines.
	NeverSampleMessages []string

	// OnDropped is invoked for each dropped record. Panics are swallowed.
	OnDropped func(ctx context.Context, record slog.Record)

	// EnableMetrics exports processed/dropped counters to Prometheus.
	EnableMetrics bool
}

// Defaults applied for zero values.
const (
	DefaultSamplingTick           = time.Second
	DefaultSamplingThreshold      = 100
	DefaultSamplingRate           = 0.1
	DefaultSamplingErrorRate      = 1.0
	DefaultSamplingMaxCounterSize = 10000
)

// samplingHandler wraps another handler with sampling logic.
type samplingHandler struct {
	handler     slog.Handler
	config      SamplingConfig
	counters    sync.Map // map[string]*counter
	counterSize atomic.Int64
	lastReset   atomic.Int64
	neverSample map[string]bool
}

type counter struct {
	count atomic.Uint64
}

// NewSamplingHandler wraps h with threshold-based sampling. The first
// Threshold records sharing a level+message key pass untouched per tick;
// after that records pass at Rate (ErrorRate for warn and above). Exempt
// prefixes always pass.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}

	if cfg.Tick == 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxCounterSize == 0 {
		cfg.MaxCounterSize = DefaultSamplingMaxCounterSize
	}

	neverSample := make(map[string]bool, len(cfg.NeverSampleMessages))
	for _, prefix := range cfg.NeverSampleMessages {
		neverSample[prefix] = true
	}

	sh := &samplingHandler{
		handler:     h,
		config:      cfg,
		neverSample: neverSample,
	}
	sh.lastReset.Store(time.Now().UnixNano())

	return sh
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.config.EnableMetrics {
		metricsOnProcessed(r.Level)
	}

	if h.shouldNeverSample(r.Message) {
		return h.handler.Handle(ctx, r)
	}

	h.maybeResetCounters()

	key := h.recordKey(r)

	// Too many distinct keys this tick: stop counting, pass everything.
	if h.counterSize.Load() >= int64(h.config.MaxCounterSize) {
		return h.handler.Handle(ctx, r)
	}

	val, loaded := h.counters.LoadOrStore(key, &counter{})
	if !loaded {
		h.counterSize.Add(1)
	}
	cnt := val.(*counter)
	count := cnt.count.Add(1)

	if count <= h.config.Threshold {
		return h.handler.Handle(ctx, r)
	}

	rate := h.config.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.config.ErrorRate
	}

	if h.shouldSample(count, rate) {
		return h.handler.Handle(ctx, r)
	}

	h.onDropped(ctx, r)

	return nil
}

func (h *samplingHandler) shouldNeverSample(message string) bool {
	if len(h.neverSample) == 0 {
		return false
	}

	for prefix := range h.neverSample {
		if len(message) >= len(prefix) && message[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (h *samplingHandler) onDropped(ctx context.Context, r slog.Record) {
	if h.config.EnableMetrics {
		logsDroppedTotal.WithLabelValues(levelToString(r.Level)).Inc()
	}

	if h.config.OnDropped == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	h.config.OnDropped(ctx, r)
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{
		handler:     h.handler.WithAttrs(attrs),
		config:      h.config,
		neverSample: h.neverSample,
	}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{
		handler:     h.handler.WithGroup(name),
		config:      h.config,
		neverSample: h.neverSample,
	}
}

func (h *samplingHandler) recordKey(r slog.Record) string {
	return r.Level.String() + ":" + r.Message
}

func (h *samplingHandler) shouldSample(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}

	// Deterministic modulo sampling so behavior is stable across workers.
	interval := uint64(1.0 / rate)
	return count%interval == 0
}

func (h *samplingHandler) maybeResetCounters() {
	now := time.Now().UnixNano()
	last := h.lastReset.Load()
	tick := h.config.Tick.Nanoseconds()

	if now-last >= tick {
		if h.lastReset.CompareAndSwap(last, now) {
			h.counters.Range(func(key, _ any) bool {
				h.counters.Delete(key)
				return true
			})
			h.counterSize.Store(0)

			if h.config.EnableMetrics {
				samplingCounterSize.Set(0)
			}
		}
	}
}
