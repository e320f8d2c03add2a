package datastore

/*
   An in-memory data store for tests and ephemeral runs.
*/

import (
	"context"
	"sort"
	"sync"
)

type memoryDB map[string]map[string][]byte

func (self memoryDB) clone() memoryDB {
	result := make(memoryDB)
	for store, items := range self {
		new_items := make(map[string][]byte)
		for k, v := range items {
			new_items[k] = v
		}
		result[store] = new_items
	}
	return result
}

type memoryBackend struct {
	mu sync.Mutex

	dbs map[string]memoryDB
}

func newMemoryBackend() *memoryBackend {
	result := &memoryBackend{
		dbs: make(map[string]memoryDB),
	}

	for db, stores := range databases {
		result.dbs[db] = make(memoryDB)
		for _, store := range stores {
			result.dbs[db][store] = make(map[string][]byte)
		}
	}
	return result
}

// Transactions work on a copy which replaces the database only when
// the callback succeeds.
func (self *memoryBackend) Update(ctx context.Context,
	db string, cb func(tx transaction) error) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return err
	}

	current, pres := self.dbs[db]
	if !pres {
		return errUnknownDatabase(db)
	}

	working := current.clone()
	err = cb(memoryTransaction(working))
	if err != nil {
		return err
	}

	self.dbs[db] = working
	return nil
}

func (self *memoryBackend) Close() error {
	return nil
}

type memoryTransaction memoryDB

func (self memoryTransaction) store(name string) (map[string][]byte, error) {
	result, pres := self[name]
	if !pres {
		return nil, errUnknownStore(name)
	}
	return result, nil
}

func (self memoryTransaction) Get(store, key string) ([]byte, error) {
	items, err := self.store(store)
	if err != nil {
		return nil, err
	}
	value, pres := items[key]
	if !pres {
		return nil, nil
	}
	return append([]byte{}, value...), nil
}

func (self memoryTransaction) Put(store, key string, value []byte) error {
	items, err := self.store(store)
	if err != nil {
		return err
	}
	items[key] = append([]byte{}, value...)
	return nil
}

func (self memoryTransaction) Delete(store, key string) error {
	items, err := self.store(store)
	if err != nil {
		return err
	}
	delete(items, key)
	return nil
}

func (self memoryTransaction) Keys(store string) ([]string, error) {
	items, err := self.store(store)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(items))
	for k := range items {
		result = append(result, k)
	}
	sort.Strings(result)
	return result, nil
}

func (self memoryTransaction) DeleteAll(store string) error {
	_, err := self.store(store)
	if err != nil {
		return err
	}
	self[store] = make(map[string][]byte)
	return nil
}
