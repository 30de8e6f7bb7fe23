// Package provider defines the snapshot-provider capability consumed
// by the harness controller, plus the platform adapters that
// implement it. The controller treats every call as a black-box
// blocking operation returning success or failure; it knows nothing
// about the underlying ioctl or command plumbing.
package provider

import "context"

// Provider exposes snapshot lifecycle and sync operations against a
// single volume, fixed at construction.
//
// CreateAsync issues an asynchronous snapshot creation and returns
// the transaction id to wait on. WaitCommit blocks until that
// transaction has committed; it may block for an unbounded but
// typically short duration. Destroy removes the snapshot created by
// the last CreateAsync. Sync forces a volume-wide sync.
//
// Implementations must be safe for sequential use from a single
// goroutine; the harness never calls them concurrently.
type Provider interface {
	CreateAsync(ctx context.Context) (transID uint64, err error)
	WaitCommit(ctx context.Context, transID uint64) error
	Destroy(ctx context.Context) error
	Sync(ctx context.Context) error
}
