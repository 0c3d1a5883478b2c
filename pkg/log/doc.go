/*
Package log provides structured logging for the coordinator using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

# Context loggers

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("selected next task")

	ownerLog := log.WithIssueID(issueID)
	ownerLog.Warn().Msg("heartbeat missed")

WithComponent, WithProjectID, WithTaskID, WithProcessID and WithIssueID all
return a derived zerolog.Logger carrying one additional structured field;
combine them with .With() for multiple fields.

# Design

A single package-level Logger is initialized once at process start and
passed nowhere further — every other package calls log.WithComponent(...)
to get a scoped child logger, matching the rest of the tree's preference
for package-level facades over threaded-through dependencies for ambient
concerns.

Never log secrets, auth tokens, or issue-tracker credentials; use typed
fields (.Str, .Int) rather than string interpolation so log aggregation
can query fields directly.
*/
package log
