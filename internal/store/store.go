package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the path holds no value.
	ErrNotFound = errors.New("document not found")
	// ErrExists means a conditional create lost: the path already holds a value.
	ErrExists = errors.New("document already exists")
	// ErrUnavailable means a transient store failure; the operation may be retried.
	ErrUnavailable = errors.New("store unavailable")
	// ErrClosed means the store connection has been shut down.
	ErrClosed = errors.New("store closed")
)

// CancelFunc tears down a single subscription. Calling it more than once is
// a no-op.
type CancelFunc func()

// ChangeFunc receives the full JSON value at the subscribed path after every
// overlapping write. data is nil when the value was deleted.
type ChangeFunc func(path string, data []byte)

// DocumentStore is the generic key-path document store the messaging core
// runs against. Paths are slash-separated segments addressing nodes in one
// JSON tree (see internal/store paths.go for the layout used by the core).
//
// Update applies every write in the map atomically; a nil value deletes the
// path. Create is the compare-and-set primitive: it fails with ErrExists
// instead of overwriting. Push appends a new child with a generated id and
// returns that id.
type DocumentStore interface {
	Get(ctx context.Context, path string, dst any) error
	Set(ctx context.Context, path string, value any) error
	Create(ctx context.Context, path string, value any) error
	Update(ctx context.Context, writes map[string]any) error
	Push(ctx context.Context, path string, value any) (string, error)
	Subscribe(ctx context.Context, path string, fn ChangeFunc) (CancelFunc, error)
}

// Uploader is the opaque blob-upload collaborator. The core never inspects
// its internals; it only stores the returned URL.
type Uploader func(ctx context.Context, data []byte) (string, error)
