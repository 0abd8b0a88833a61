// Package memory turns finished sessions into durable, cross-session
// records and answers keyword queries over them.
//
// RecordsFromSession extracts one record per non-partial text event. Records
// are deduplicated per (app, user) by a hash of their normalized content, so
// ingesting the same session twice adds nothing. Search scores records by
// the fraction of query keywords they contain.
//
// InMemoryStore is process local; the sqlite subpackage persists records.
package memory
