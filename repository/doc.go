// Package repository provides RuntimeRepository implementations: a
// file-backed store (the reference layout, one directory per task with a
// task.json and one file per step), a volatile in-memory store for tests and
// ephemeral runs, and a MySQL-backed store for durable shared persistence.
package repository
