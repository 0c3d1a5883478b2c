package daemon

import "fmt"

// Project records share the same key-layout idiom as pkg/ownership: a set
// of ids plus one hash per id.
func projectKey(id string) string { return fmt.Sprintf("poppo:project:%s", id) }

const projectSetKey = "poppo:projects"
