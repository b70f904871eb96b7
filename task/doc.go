// Package task defines the runtime state model for tracked task executions:
// TaskRuntime, TaskRuntimeStep and ToolCall value types, the status state
// machine, and the RuntimeRepository persistence abstraction. The types are
// pure data plus derived-field computation; all orchestration lives in the
// monitor and router packages.
package task
