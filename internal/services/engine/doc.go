// Package engine is the trigger engine: it owns every live timer for the
// durable schedule records and enforces their execution discipline.
//
// # Registrations
//
// Each scheduled record has at most one live registration, keyed by its
// job id: a one-shot timer for once records, a cron entry (standard
// 5-field expressions) for recurring ones. Registering an already-known
// key replaces the previous registration, so re-registration is idempotent.
//
// # Execution discipline
//
// Fires are enqueued to a bounded worker pool. At most one execution per
// job id runs at a time; a fire that arrives while the previous run for
// the same key is still executing is dropped, not queued. Because a key
// has a single registration, fire times missed while the process was down
// collapse into at most one catch-up execution. A once record additionally
// carries a grace window after its run time; past it the fire is abandoned
// and the record marked failed instead of running late.
//
// # Restore
//
// Restore() re-registers all records in scheduled status at boot. Once
// records whose run time already passed are marked failed without ever
// executing.
//
// # Failure policy
//
// Per-job errors never stop the engine: registration or execution failure
// marks that one record failed and everything else keeps running. A cron
// record stays scheduled no matter how many consecutive fires fail; it
// only leaves that status through pause or cancel.
package engine
