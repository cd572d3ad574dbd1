// Package main hosts the spider-emissaries service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes model creation, sentence sampling, user enrollment, the chat log, a
//     raw URL proxy, and health/metrics endpoints.
//   - Models: internal/textmodel derives a content-addressed label from (parent label, URL), scrapes the URL through
//     the colly probe fetcher (optionally promoted to headless Chrome), trains a Markov chain, and combines it with
//     the parent when one is given.
//   - Chat: internal/chat picks a random user after a random delay and posts a sentence from the user's model to the
//     chat table, optionally publishing it to Pub/Sub.
//   - Persistence: SQLite via gorm by default, Postgres via pgx, or memory for development. Stored models can be
//     archived to local disk or GCS.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: EMISSARY_SERVER_PORT or PORT, EMISSARY_DATABASE_DRIVER/DSN, EMISSARY_CHAT_MIN_DELAY,
//     EMISSARY_CHAT_MAX_DELAY, EMISSARY_MODELS_LABEL_HASH, archive (EMISSARY_ARCHIVE_*) and pubsub settings.
//   - Run locally: go run ./cmd/emissaries -config config.yaml (or rely solely on env overrides).
package main
