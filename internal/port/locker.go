package port

import "context"

// Locker serializes work on a single key (one order, one buyer cart).
type Locker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
