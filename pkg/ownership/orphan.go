package ownership

import (
	"context"
	"strconv"
	"time"

	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/log"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// ScanOrphans enumerates the processing set and repairs any entry whose
// owning process has gone silent: heartbeat key absent and, when the
// recording host matches this host, the OS-level pid no longer alive. On a
// foreign host, heartbeat absence alone is sufficient (this process cannot
// check another host's pid table).
func (c *Coordinator) ScanOrphans(ctx context.Context) ([]types.OrphanRecord, error) {
	issueIDs, err := c.store.SMembers(ctx, processingSetKey)
	if err != nil {
		return nil, err
	}

	var repaired []types.OrphanRecord
	for _, issueID := range issueIDs {
		record, err := c.checkOrphan(ctx, issueID)
		if err != nil {
			log.WithComponent("ownership").Warn().Err(err).Str("issue_id", issueID).Msg("orphan check failed, will retry next sweep")
			continue
		}
		if record != nil {
			repaired = append(repaired, *record)
		}
	}
	return repaired, nil
}

func (c *Coordinator) checkOrphan(ctx context.Context, issueID string) (*types.OrphanRecord, error) {
	statusFields, err := c.store.HGetAll(ctx, issueStatusKey(issueID))
	if err != nil {
		return nil, err
	}
	if statusFields["status"] != string(types.OwnershipProcessing) {
		return nil, nil
	}
	processID := statusFields["processId"]
	if processID == "" {
		return nil, nil
	}

	processFields, err := c.store.HGetAll(ctx, processInfoKey(processID))
	if err != nil {
		return nil, err
	}

	_, alive, err := c.store.Get(ctx, processHeartbeatKey(processID))
	if err != nil {
		return nil, err
	}
	if alive {
		return nil, nil
	}

	osPid, _ := strconv.Atoi(processFields["osPid"])
	sameHost := processFields["hostname"] == c.hostname
	if sameHost && osPid > 0 && processAlive(osPid) {
		return nil, nil
	}

	now := time.Now()
	if err := c.Checkin(ctx, issueID, processID, types.OwnershipError, map[string]string{
		"reason":      "process died unexpectedly",
		"originalPid": processFields["osPid"],
		"orphanedAt":  now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	metrics.OwnershipOrphansTotal.Inc()
	if c.broker != nil {
		c.broker.Publish(&events.Event{
			Type:     events.EventOrphanRepaired,
			Message:  issueID,
			Metadata: map[string]string{"issueId": issueID, "processId": processID, "reason": "process died unexpectedly"},
		})
	}

	return &types.OrphanRecord{
		IssueID:     issueID,
		ProcessID:   processID,
		OriginalPid: osPid,
		OrphanedAt:  now,
		Reason:      "process died unexpectedly",
	}, nil
}

// Start begins the background orphan-sweep and deadlock-detection tickers.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.OrphanScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := c.ScanOrphans(ctx); err != nil {
					log.WithComponent("ownership").Warn().Err(err).Msg("orphan sweep failed")
				}
				cancel()
			case <-c.stopCh:
				return
			}
		}
	}()
	c.startDeadlockDetector()
}

// Stop halts the background tickers and waits for them to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}
