// Package blobfile loads device tree blobs from disk without copying them
// onto the heap where the platform allows it.
package blobfile
