/*
Package health provides health check mechanisms for monitoring worker
process liveness.

It implements five checker types — HTTP, TCP, Exec, Process, and Func —
behind a single Checker interface, plus a Status tracker that applies
hysteresis (several consecutive failures before flipping unhealthy, one
success to flip back) so a transient blip doesn't trigger an orphan
repair.

# Checker Interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker hits a URL and checks the status code; TCPChecker dials an
address and checks that the connection opens; ExecChecker runs a host
command and checks its exit code; ProcessAliveChecker probes a PID directly
with the platform's liveness signal (unix.Kill(pid, 0) on POSIX,
OpenProcess+GetExitCodeProcess on Windows) — the cheapest possible check
between a worker's own heartbeat writes; FuncChecker adapts an arbitrary
probe function, for checks that go through an existing client rather than
opening their own connection.

# Usage

	checker := health.NewHTTPChecker("http://127.0.0.1:8080/health")
	checker.WithTimeout(5 * time.Second)

	status := health.NewStatus()
	config := health.DefaultConfig()

	result := checker.Check(ctx)
	status.Update(result, config)
	if !status.Healthy {
		// consecutive failures reached config.Retries; treat the
		// worker as an orphan candidate
	}

# See Also

  - pkg/ownership - orphan detection reuses the same PID-liveness idiom
  - pkg/daemon - backs the health.check command and /healthz with a store
    FuncChecker and a ProcessAliveChecker on the daemon's own pid
*/
package health
