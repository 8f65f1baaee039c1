// Package poller implements the presence resync loop.
//
// The poller:
//   - Reloads the presence set of every attached channel on an interval
//   - Bounds concurrent REST fetches with a weighted semaphore
//   - Hands each fresh snapshot to a SnapshotHandler (the archive, in the archiver)
package poller
