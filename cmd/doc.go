// Package cmd defines and implements the CLI commands for the adsnap executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the weekly payload and a fill status listing. The
//     payload handler resolves the requested week key and delegates to internal/service, which serves the cached
//     record or assembles and persists a new one.
//   - Resolve pipeline: internal/assembler fans out two archive lookups per retailer through internal/archive,
//     which queries the CDX index with the Colly fetcher behind a per-host rate limiter and an optional memo
//     (memory or Redis).
//   - Fill pool: incomplete weeks are handed to internal/dispatcher, which deduplicates in-flight weeks and feeds
//     a bounded in-memory queue drained by internal/worker. Workers render each capture with chromedp, upload it
//     to the configured BlobStore (memory/local/GCS) and merge the URLs back into the weekly record in one call.
//   - Persistence: weekly records live in Postgres (schema via `adsnap migrate up`), bbolt or memory. Writes are
//     first-writer-wins and the fill merge only ever sets missing screenshot URLs.
//   - Configuration & plumbing: Viper populates config from file and ADSNAP_* env vars; zap provides structured
//     logging; Prometheus metrics are served on /metrics; OpenTelemetry spans wrap resolve, assemble and fill.
//
// Commands:
//   - serve: run the API, the fill pool and the optional cron warmer until SIGINT/SIGTERM.
//   - warm --week yyyy-mm-dd: resolve and fill one week in the foreground.
//   - migrate up|down: apply or roll back the Postgres cache schema.
package cmd
