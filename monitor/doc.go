// Package monitor bridges agent-execution lifecycle events into the task
// runtime model and its repository. An ExecutionMonitor is the sole writer of
// one task's steps; the Manager creates tasks, attaches monitors, runs teams
// through the handoff router and answers queries over tracked tasks.
package monitor
