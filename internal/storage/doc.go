// Package storage is the bridge between the in-memory registries and the
// relational store behind them.
//
// It currently supports:
//   - MySQL (go-sql-driver/mysql), the production backend
//   - SQLite (modernc.org/sqlite), for single-host deployments and tests
//
// Every mutating operation maps to one parameterized statement. The handle is
// opened and closed per call unless the store was built over an existing
// *sql.DB.
package storage
