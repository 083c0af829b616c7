// Package cachestore provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The package models the browser Cache Storage API on disk: named caches
// hold HTTP response entries keyed by (method, URL), and lookups can target
// one cache (Match) or search all of them (MatchAny). Alongside the caches
// live two small auxiliary stores: Web Push subscriptions and notification
// records.
//
// SQLiteStore implements the whole Store interface in one struct; callers
// declare the narrow slice of it they need.
//
// # Data Model
//
//   - Cache: a named namespace, usually one per shell generation plus its
//     "-data" companion, created implicitly on first write
//   - Entry: a stored HTTP response (status, headers, body) replayed
//     verbatim, with no freshness or revalidation metadata
//   - PushSubscription: a client push endpoint with its encryption keys
//   - Notification: a displayed push notification with rendered body
//
// # Lookup Order
//
// MatchAny searches caches in creation order. During an upgrade window the
// previous generation's cache still exists and answers first; reconciling
// the cache set after activation is what removes it. Callers that need the
// current generation only should use Match with an explicit cache name.
//
// # Batch Writes
//
// AddAll wraps a batch of entries in one transaction. Installation uses it
// to get all-or-nothing population of a new generation's cache: a failed
// batch leaves no entries and no cache row.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Entry deletion rides on ON DELETE CASCADE from the caches table.
//
// # Error Handling
//
// Lookups and targeted deletes return ErrNotFound when the entity does not
// exist. All methods accept context.Context for cancellation.
package cachestore
