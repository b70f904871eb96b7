// Package session manages long-lived connections to external tool providers.
// A Manager owns at most one open Session per provider key, shares it across
// concurrent tool invocations, and guarantees clean, idempotent teardown:
// invoking after close always fails with ErrClosed, never with a resource
// fault.
package session
