package core

import "go.uber.org/zap"

const (
	// defaultMaxSegmentSize is the default segment size cap: 1 MiB.
	defaultMaxSegmentSize int64 = 1 * 1024 * 1024
	// defaultMemtableMaxBytes bounds the memtable by bytes written, not
	// entry count, so a memtable of a thousand tiny keys and a memtable of
	// ten large values hit the same actual memory budget.
	defaultMemtableMaxBytes int64 = 1 * 1024 * 1024
)

// Option configures an Engine at Open time. There is no environment
// variable or config file support: every tunable is a constructor argument.
type Option func(*Engine)

// WithMaxSegmentSize overrides the per-segment size cap.
func WithMaxSegmentSize(n int64) Option {
	return func(e *Engine) { e.maxSegmentSize = n }
}

// WithMemtableMaxBytes overrides the memtable's byte budget.
func WithMemtableMaxBytes(n int64) Option {
	return func(e *Engine) { e.memtableMaxBytes = n }
}

// WithFsyncOnWrite controls whether every successful write fsyncs its
// segment before returning. The default is true; setting it false trades
// that durability guarantee for throughput and is meant for callers that
// implement their own group commit above the engine, not as a
// general-purpose knob.
func WithFsyncOnWrite(b bool) Option {
	return func(e *Engine) { e.fsyncOnWrite = b }
}

// WithLogger attaches a zap.Logger for structured diagnostics. The default
// is a no-op logger so the engine stays silent unless a caller opts in.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}
