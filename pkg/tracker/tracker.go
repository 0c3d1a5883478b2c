// Package tracker defines the narrow boundary to an external issue tracker
// (GitHub, GitLab, Jira, ...). The coordinator itself never speaks a
// tracker's API directly — ownership changes call through this interface,
// and a concrete adapter (HTTP client, CLI wrapper, whatever the deployment
// needs) is wired in by the daemon at startup.
package tracker

import "context"

// LabelUpdater matches ownership.LabelUpdater; it is redeclared here so
// pkg/tracker does not need to import pkg/ownership, keeping the adapter
// boundary a leaf package with no upward dependency.
type LabelUpdater interface {
	UpdateLabel(ctx context.Context, issueID, label string) error
}

// Client is the full narrow adapter boundary: label updates plus the lookup
// a reconciler needs to detect drift between the coordinator's view of an
// issue and the tracker's.
type Client interface {
	LabelUpdater

	// CurrentLabel returns the label a tracker currently has recorded for
	// issueID, or "" if none / the issue does not carry a coordinator label.
	CurrentLabel(ctx context.Context, issueID string) (string, error)
}
