// Package storage is the durable layer under the scheduling core: schedule
// records, the contact/group directory, and the message audit log.
//
// The backend is a single SQLite file (modernc.org/sqlite, no cgo). Schema
// setup runs from the embedded migrations.sql on open. All mutating schedule
// operations are single-statement or transactional, so record updates are
// atomic with respect to concurrent engine and API callers.
package storage
