// Package bitio implements the bit-packed read/write buffer primitives that
// every codec in this module is built on: a growable, snapshot/restorable
// input buffer for streaming chunk and AMF0 parsing, and an append-only
// bit-granular output buffer for building outbound chunks.
package bitio

import "github.com/pkg/errors"

// ErrInsufficientData is returned by any ReadBuffer operation that would
// need to read past the write cursor. It is the normal, expected outcome of
// parsing against a TCP stream that hasn't delivered enough bytes yet: the
// caller is expected to Restore() to its snapshot and wait for more data,
// never to treat it as a fatal protocol error.
var ErrInsufficientData = errors.New("bitio: insufficient data")

// ErrInvalidWidth is returned when a read or write width falls outside the
// range a given operation supports.
var ErrInvalidWidth = errors.New("bitio: invalid width")

// ErrSnapshotActive is returned by Append when a snapshot is outstanding;
// appending to the buffer while a transactional read is in progress would
// invalidate the restore point.
var ErrSnapshotActive = errors.New("bitio: append not allowed during an active snapshot")

// ErrNestedSnapshot is returned by Snapshot when a snapshot is already open;
// snapshots do not nest.
var ErrNestedSnapshot = errors.New("bitio: snapshot already active")

// ErrNoActiveSnapshot is returned by Restore/DiscardSnapshot when no
// snapshot is outstanding.
var ErrNoActiveSnapshot = errors.New("bitio: no active snapshot")
