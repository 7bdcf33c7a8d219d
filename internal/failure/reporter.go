package failure

import (
	"sync"

	"go.uber.org/zap"
)

// Reporter is the one place failures go. It logs each failure at the level
// its kind calls for and keeps per-kind counts.
type Reporter struct {
	logger *zap.Logger

	mu     sync.Mutex
	counts map[Kind]int
}

func NewReporter(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		logger: logger,
		counts: make(map[Kind]int),
	}
}

// Report records err under its kind and returns the kind. A nil err is
// ignored and reported as KindNone.
func (r *Reporter) Report(component string, err error, fields ...zap.Field) Kind {
	kind := KindOf(err)
	if kind == KindNone {
		return kind
	}

	r.mu.Lock()
	r.counts[kind]++
	r.mu.Unlock()

	fields = append(fields, zap.String("kind", string(kind)), zap.Error(err))
	switch kind {
	case KindConfig:
		r.logger.Debug(component+" skipped", fields...)
	case KindStale:
		r.logger.Debug(component+" dropped superseded response", fields...)
	default:
		r.logger.Warn(component+" failed", fields...)
	}
	return kind
}

// Count returns how many failures of kind were reported.
func (r *Reporter) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[kind]
}

// Counts returns a copy of all per-kind counts.
func (r *Reporter) Counts() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Kind]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}
