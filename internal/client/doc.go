// Package client is the consumer side of the license authority.
//
// An Entitlement decides whether the local installation may use the
// product. It answers from a short-lived cache when it can, asks the
// authority when the cache is stale, and falls back to the last
// authoritative answer for a bounded grace window when the authority
// cannot be reached.
//
// Storage is split in two:
//   - CacheStore holds the last answer for a TTL (MemoryCache, RedisCache)
//   - StateStore holds the durable record that survives restarts (FileStateStore)
//
// The durable record is signed so a hand-edited file is treated as absent.
package client
