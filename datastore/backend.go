package datastore

import "context"

// A key/value backend. Each database holds a fixed set of stores and
// every read and write happens inside an Update transaction, which
// either commits all of its writes or none of them.
type backend interface {
	Update(ctx context.Context, db string, cb func(tx transaction) error) error
	Close() error
}

type transaction interface {
	// Returns nil, nil when the key is absent.
	Get(store, key string) ([]byte, error)
	Put(store, key string, value []byte) error
	Delete(store, key string) error

	// Sorted by key.
	Keys(store string) ([]string, error)
	DeleteAll(store string) error
}
