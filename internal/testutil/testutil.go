// Package testutil provides test utilities for medallion, including:
//   - an in-memory object store standing in for S3 (objectstore.go)
//   - a recording warehouse with transactional table snapshots (warehouse.go)
//   - Miniredis helpers for the run lock and watermark cache (miniredis.go)
//   - a Postgres test container with the warehouse migrated (postgres.go,
//     behind the integration build tag)
//
// Only the integration helpers need Docker.
package testutil
