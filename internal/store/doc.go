// Package store defines the persistence interface for crawl run progress.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
