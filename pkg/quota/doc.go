/*
Package quota implements the per-project CPU/memory/concurrency quota
engine: allocation with elastic borrowing, and a background dynamic
re-allocation sweep.

# Quantity parsing

CPU and memory quantities are parsed with
k8s.io/apimachinery/pkg/api/resource.Quantity, which natively understands
both the millicore suffix ("1500m" → 1.5 cores) and the binary memory
suffixes ("512Mi", "2Gi", Ki/Mi/Gi/Ti as multiples of 1024).

# Allocation algorithm

Allocate walks, in order: the project's concurrency ceiling, its CPU quota
(falling back to an elastic borrow against other projects' slack if
permitted), its memory quota (same fallback), and finally the system-wide
reserve. A successful allocation commits per-project usage, records the
allocation under the requesting process id, and decrements the system-wide
available counters; any failure leaves all counters untouched.

# Re-allocation

Reallocate runs on a fixed interval (default 60s) and only acts when the
standard deviation of per-project CPU utilisation exceeds 0.20, to avoid
needless churn. Target quotas are computed from priority- and
throughput-weighted shares of the post-reserve capacity and applied with a
0.5 smoothing factor against the previous quota.
*/
package quota
