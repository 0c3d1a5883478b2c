package daemon

import (
	"context"
	"os"

	"github.com/poppobuilder/coordinator/pkg/health"
)

// namedChecker pairs a health.Checker with the name it reports under, since
// Checker.Type() alone doesn't distinguish two checkers of the same kind
// (e.g. a future second FuncChecker).
type namedChecker struct {
	name    string
	checker health.Checker
}

// healthCheckers returns the live set of checks backing both the
// health.check command and the /healthz HTTP endpoint: shared-store
// connectivity and this daemon's own process liveness.
func (d *Daemon) healthCheckers() []namedChecker {
	return []namedChecker{
		{name: "store", checker: health.NewFuncChecker("store", d.checkStore)},
		{name: "process", checker: health.NewProcessAliveChecker(os.Getpid())},
	}
}

// checkStore probes the shared store for reachability. The probed key need
// not exist; Get reports a missing key as (_, false, nil), not an error, so
// only a genuine connectivity failure (e.g. errs.Unavailable) fails the
// check.
func (d *Daemon) checkStore(ctx context.Context) error {
	_, _, err := d.store.Get(ctx, "poppo:healthcheck:probe")
	return err
}

// runHealthChecks runs every registered checker and reports the aggregate
// status alongside each individual result.
func (d *Daemon) runHealthChecks(ctx context.Context) (string, map[string]string) {
	checks := make(map[string]string, len(d.healthCheckers()))
	status := "ok"
	for _, nc := range d.healthCheckers() {
		result := nc.checker.Check(ctx)
		checks[nc.name] = result.Message
		if !result.Healthy {
			status = "degraded"
		}
	}
	return status, checks
}
