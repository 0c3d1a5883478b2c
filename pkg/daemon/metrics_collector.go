package daemon

import (
	"time"

	"github.com/poppobuilder/coordinator/pkg/metrics"
)

// metricsCollector polls state that no single C1-C5 component owns and
// republishes it as a Prometheus gauge. Every other metric
// (coordinator_queue_depth, coordinator_quota_usage, coordinator_tasks_total,
// ...) is already set inline by the component that changes it; grounded on
// the ticker-driven collect() fan-out pattern, but reduced to the one
// cross-cutting gauge the daemon itself is in a position to compute.
type metricsCollector struct {
	projects *ProjectRegistry

	stopCh chan struct{}
	done   chan struct{}
}

func newMetricsCollector(projects *ProjectRegistry) *metricsCollector {
	return &metricsCollector{
		projects: projects,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *metricsCollector) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *metricsCollector) Stop() {
	close(c.stopCh)
	<-c.done
}

func (c *metricsCollector) collect() {
	metrics.ProjectsTotal.Set(float64(len(c.projects.List())))
}
