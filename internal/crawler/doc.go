// Package crawler holds the domain types of the registry crawler: collections,
// index stubs, persisted records, the shared component interfaces and the
// index error taxonomy.
package crawler
