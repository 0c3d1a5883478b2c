package health

import (
	"context"
	"fmt"
	"time"
)

// ProcessAliveChecker performs health checks by probing whether a PID is
// still alive on the host, the cheapest possible liveness signal for a
// worker process between its own heartbeat writes.
type ProcessAliveChecker struct {
	// PID is the process ID to probe.
	PID int
}

// NewProcessAliveChecker creates a new process liveness checker for pid.
func NewProcessAliveChecker(pid int) *ProcessAliveChecker {
	return &ProcessAliveChecker{PID: pid}
}

// Check performs the liveness probe.
func (p *ProcessAliveChecker) Check(ctx context.Context) Result {
	start := time.Now()
	alive := processAlive(p.PID)
	message := fmt.Sprintf("pid %d is alive", p.PID)
	if !alive {
		message = fmt.Sprintf("pid %d is not running", p.PID)
	}
	return Result{
		Healthy:   alive,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (p *ProcessAliveChecker) Type() CheckType {
	return CheckTypeProcess
}
