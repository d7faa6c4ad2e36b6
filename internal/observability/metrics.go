package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// Metrics emits log-based counters as "METRIC:<name>:1" lines. The hosting
// platform scrapes these from process output, so no metrics backend or
// network round trip is involved. Increments are fire-and-forget.
type Metrics struct {
	logger *zap.Logger
}

// NewMetrics creates a Metrics recorder writing through the given logger.
//
// Precondition: logger must be non-nil.
func NewMetrics(logger *zap.Logger) *Metrics {
	return &Metrics{logger: logger}
}

// Incr records a single increment of the named counter.
func (m *Metrics) Incr(name string) {
	m.logger.Info(fmt.Sprintf("METRIC:%s:1", name))
}
