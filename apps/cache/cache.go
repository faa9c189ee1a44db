// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package cache allows third parties to implement external storage for caching token data
for distributed systems or multiple local applications access.

The data stored and extracted will represent the entire cache. Therefore it is recommended
one client instance per user. This data is considered opaque and there are no guarantees to
implementers on the format being passed.
*/
package cache

import "context"

// Marshaler marshals data from an internal cache to bytes that can be stored.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Unmarshaler unmarshals data from a storage medium into the internal cache, overwriting it.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// Serializer can serialize the cache to binary or from binary into the cache.
type Serializer interface {
	Marshaler
	Unmarshaler
}

// ExportReplace is used to export or replace what is in the cache. A Replace
// is issued before the cache is read and an Export after it was written, so
// an implementation backed by shared storage keeps processes converged. The
// backend may be a file, an OS secret store or a remote service; coordination
// between concurrent writers (lock file, storage events) is the
// implementation's job, the cache itself takes no locks across processes.
type ExportReplace interface {
	// Replace replaces the cache with what is in external storage. Implementors
	// should honor Context cancellations and return context.Canceled or
	// context.DeadlineExceeded in those cases.
	Replace(ctx context.Context, cache Unmarshaler) error
	// Export writes the binary representation of the cache (cache.Marshal()) to
	// external storage. This is considered opaque. Context cancellations should
	// be honored as in Replace.
	Export(ctx context.Context, cache Marshaler) error
}
