// Package storage persists check results, connection profiles, secrets and
// data sources through gorm. SQLite is the default backend; MySQL is
// selected by a mysql:// database URL.
package storage
