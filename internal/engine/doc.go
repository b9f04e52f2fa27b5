// Package engine provides the job orchestration engine. It owns the live
// job registry and runs one cooperative routine per job on a shared
// scheduler: submit to the remote generation service, poll until the remote
// run settles, then fetch artifacts into the local store. Lifecycle changes
// are journaled to SQLite and streamed to subscribers in real time.
package engine
