// Package dispatch runs detached background jobs on a bounded worker pool.
//
// The engine uses it for external identity synchronization and the audit
// pipeline. Jobs never see the caller's context and return nothing, so a job
// cannot influence the response of the request that queued it.
//
// # What this package must NOT do
//
//   - Retry jobs. A job that fails is logged by the job itself and forgotten.
//   - Block Submit indefinitely when DropIfFull is set.
package dispatch
