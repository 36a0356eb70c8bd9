// Package querysync keeps client-side views of REST resources in sync with
// the server: it fetches, caches, normalizes, invalidates, and optimistically
// mutates server-backed data so that many independent UI surfaces can observe
// one consistent copy of each resource.
//
// Components:
//   - Store: key-addressed entry table with subscribers, stale marking, and
//     subscriber-driven garbage collection.
//   - Key: hierarchical, deterministic cache keys with prefix invalidation
//     ("everything under courses.list").
//   - Client.Query / Client.QueryPage: stale-while-revalidate reads with
//     singleflight dedup, bounded 429 retries, and payload normalization.
//   - Client.Mutate: optimistic writes (patch, commit, rollback as first-class
//     values) with targeted invalidation and per-key serialization.
//   - Search: debounced free-text search sessions where the last keystroke
//     wins via monotonic request ids.
//
// The only remote boundary is the resource.Client interface; the cache lives
// entirely in process memory and is dropped at process exit. One Client per
// running application is the intended lifecycle - construct it at startup and
// hand the same instance to every surface that needs it.
package querysync
