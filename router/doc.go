// Package router implements deterministic handoff routing over a team of
// agents. The router owns the turn loop of a task: it selects the active
// agent, runs it as one recorded step, follows structured handoff directives
// and terminates the task through the listener it is given.
package router
