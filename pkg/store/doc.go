// Package store persists sender credentials and wireless carrier gateway
// domains. It offers an in-memory backend for tests and single-node setups
// and a database/sql backend for PostgreSQL (pgx) and SQLite (modernc).
package store
