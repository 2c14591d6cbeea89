// Package core provides the business logic for column extraction projects.
//
// It is independent of any transport. Web handlers, the server binary and
// tests drive it through [Service].
//
// # Projects
//
// A project is an imported CSV table plus its change history. The raw CSV is
// stored once as the project's base; every change after that is a journal
// record. On startup [Service.Restore] rebuilds each table by replaying its
// journal over the base, up to the stored head.
//
// # Extraction Jobs
//
// [Service.StartExtraction] validates the request, takes a slot from the
// [JobLimiter] and runs an [extraction.Job] on its own goroutine. A project
// runs at most one job at a time, and undo or redo is refused while one runs.
// The flow is:
//
//  1. Client calls StartExtraction and gets a job id
//  2. Progress is broadcast to subscribers via [Service.SubscribeProgress]
//  3. On success the result is added to the project history as one entry
//  4. [Service.JobResult] returns the outcome; the sweeper forgets it later
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has its own code prefix:
//
//   - EXT: extraction jobs (cancelled, busy, unknown service or column)
//   - HIS: history (nothing to undo or redo, integrity)
//   - JRN: journal (corrupted records, store unavailable)
//   - FILE: CSV uploads (size, empty, invalid)
package core
