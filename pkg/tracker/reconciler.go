package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/poppobuilder/coordinator/pkg/log"
)

// ProcessingIssue is the minimal view a Reconciler needs of an
// in-progress issue; ownership.IssueOwnership satisfies this shape.
type ProcessingIssue struct {
	IssueID string
	Status  string
}

// IssueLister supplies the current set of in-progress issues. Satisfied by
// (*ownership.Coordinator).ListProcessing once its results are narrowed to
// ProcessingIssue.
type IssueLister func(ctx context.Context) ([]ProcessingIssue, error)

// Reconciler periodically re-applies the tracker label implied by each
// in-progress issue's coordinator-side status, repairing drift from a
// fire-and-forget label update that failed silently. It is optional and
// off by default: label updates are best-effort at checkout/checkin time,
// and most deployments never need this background correction pass.
type Reconciler struct {
	client        Client
	lister        IssueLister
	interval      time.Duration
	maxConcurrent int
	semaphore     chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithInterval overrides the default 5-minute reconciliation interval.
func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.interval = d }
}

// WithMaxConcurrent bounds how many label updates run at once.
func WithMaxConcurrent(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n < 1 {
			n = 1
		}
		r.maxConcurrent = n
	}
}

// NewReconciler constructs a Reconciler. client is the tracker adapter,
// lister supplies the current in-progress issue set (typically
// coordinator.ListProcessing narrowed to ProcessingIssue).
func NewReconciler(client Client, lister IssueLister, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		client:        client,
		lister:        lister,
		interval:      5 * time.Minute,
		maxConcurrent: 2,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.semaphore = make(chan struct{}, r.maxConcurrent)
	return r
}

// Start runs the reconciliation ticker loop until Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.reconcileOnce(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the ticker loop to exit and waits for it.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	issues, err := r.lister(ctx)
	if err != nil {
		log.WithComponent("tracker").Warn().Err(err).Msg("reconciler: list processing issues failed")
		return
	}

	var wg sync.WaitGroup
	for _, issue := range issues {
		issue := issue
		select {
		case r.semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-r.semaphore }()
			r.reconcileIssue(ctx, issue)
		}()
	}
	wg.Wait()
}

func (r *Reconciler) reconcileIssue(ctx context.Context, issue ProcessingIssue) {
	current, err := r.client.CurrentLabel(ctx, issue.IssueID)
	if err != nil {
		log.WithComponent("tracker").Debug().Err(err).Str("issue_id", issue.IssueID).Msg("reconciler: lookup failed")
		return
	}
	if current == issue.Status {
		return
	}
	if err := r.client.UpdateLabel(ctx, issue.IssueID, issue.Status); err != nil {
		log.WithComponent("tracker").Warn().Err(err).Str("issue_id", issue.IssueID).Msg("reconciler: label repair failed")
	}
}
