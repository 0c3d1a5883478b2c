package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu     sync.Mutex
	labels map[string]string
	calls  int
}

func newFakeClient(initial map[string]string) *fakeClient {
	return &fakeClient{labels: initial}
}

func (f *fakeClient) UpdateLabel(ctx context.Context, issueID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[issueID] = label
	f.calls++
	return nil
}

func (f *fakeClient) CurrentLabel(ctx context.Context, issueID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labels[issueID], nil
}

func TestReconcilerRepairsDriftedLabel(t *testing.T) {
	client := newFakeClient(map[string]string{"ISSUE-1": "stale"})
	lister := func(ctx context.Context) ([]ProcessingIssue, error) {
		return []ProcessingIssue{{IssueID: "ISSUE-1", Status: "processing"}}, nil
	}

	r := NewReconciler(client, lister, WithInterval(10*time.Millisecond), WithMaxConcurrent(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	require.Eventually(t, func() bool {
		label, _ := client.CurrentLabel(context.Background(), "ISSUE-1")
		return label == "processing"
	}, time.Second, 5*time.Millisecond)
}

func TestReconcilerSkipsMatchingLabel(t *testing.T) {
	client := newFakeClient(map[string]string{"ISSUE-1": "processing"})
	lister := func(ctx context.Context) ([]ProcessingIssue, error) {
		return []ProcessingIssue{{IssueID: "ISSUE-1", Status: "processing"}}, nil
	}

	r := NewReconciler(client, lister)
	r.reconcileOnce(context.Background())

	assert.Equal(t, 0, client.calls)
}

func TestReconcilerWithMaxConcurrentUpdatesEveryIssue(t *testing.T) {
	client := newFakeClient(map[string]string{})
	issues := make([]ProcessingIssue, 20)
	for i := range issues {
		issues[i] = ProcessingIssue{IssueID: string(rune('a' + i)), Status: "processing"}
	}
	lister := func(ctx context.Context) ([]ProcessingIssue, error) { return issues, nil }

	r := NewReconciler(client, lister, WithMaxConcurrent(3))
	r.reconcileOnce(context.Background())

	assert.Equal(t, len(issues), client.calls)
}
