// Package store provides persistence for managed server records.
//
// # Overview
//
// A Server row is the hub's view of one managed game server: its identity,
// the secret agent key its supervisor authenticates with, whether an agent
// is currently connected, and the last status the agent reported.
//
// The SQLite implementation uses modernc.org/sqlite (pure Go, no cgo) with
// WAL mode. MockStore is an in-memory implementation for tests.
//
// # Partial Updates
//
// StatusUpdate carries pointer fields. UpdateStatus writes only the non-nil
// ones (COALESCE in SQL), so an agent that has not yet read its properties
// file does not reset the stored port to zero.
//
// # Errors
//
// Operations addressing a server that does not exist return ErrNotFound,
// including updates that affect zero rows. The hub relies on this to close
// sessions whose record was deleted while the agent was connected.
package store
