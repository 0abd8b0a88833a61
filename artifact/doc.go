// Package artifact contains core.ArtifactStore implementations.
//
// Artifacts are named binary blobs scoped to a session key. Every Save creates
// a new version numbered from 1; Load with version 0 returns the latest.
// Callers should depend on the core interface so backends can be swapped.
package artifact
