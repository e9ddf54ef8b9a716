// Package fs abstracts the filesystem operations used to write column,
// offset and id map files.
//
//   - [LocalFS]: production implementation on top of package os
//   - [FaultyFS]: test wrapper that injects write, sync and rename failures
//
// Column files are written to a temporary name and renamed into place on
// Close, so readers never observe a partially written column. [WriteFile]
// implements that sequence for callers that already hold the whole payload.
//
// There is no context.Context on these calls; local file operations are not
// interruptible at the syscall level. Remote access goes through blobstore.
package fs
