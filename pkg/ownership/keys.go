package ownership

import "fmt"

// Key layout is externally visible and stable across process restarts.
func issueStatusKey(issueID string) string    { return fmt.Sprintf("poppo:issue:status:%s", issueID) }
func issueMetadataKey(issueID string) string   { return fmt.Sprintf("poppo:issue:metadata:%s", issueID) }
func issueLockKey(issueID string) string       { return fmt.Sprintf("poppo:lock:issue:%s", issueID) }
func processInfoKey(processID string) string   { return fmt.Sprintf("poppo:process:info:%s", processID) }
func processHeartbeatKey(processID string) string {
	return fmt.Sprintf("poppo:process:heartbeat:%s", processID)
}

const (
	processingSetKey = "poppo:issues:processing"
	processedSetKey  = "poppo:issues:processed"
	activeProcessesSetKey = "poppo:processes:active"
)
