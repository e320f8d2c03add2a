package datastore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-errors/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Each database is its own leveldb directory under the location and
// each store is a key prefix inside it.
type levelDBBackend struct {
	dbs map[string]*leveldb.DB
}

func newLevelDBBackend(location string) (*levelDBBackend, error) {
	if location == "" {
		return nil, errors.New("leveldb datastore needs a location")
	}

	err := os.MkdirAll(location, 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	result := &levelDBBackend{
		dbs: make(map[string]*leveldb.DB),
	}

	for name := range databases {
		db, err := leveldb.OpenFile(filepath.Join(location, name), nil)
		if err != nil {
			result.Close()
			return nil, errors.Wrap(err, 0)
		}
		result.dbs[name] = db
	}

	return result, nil
}

func (self *levelDBBackend) Update(ctx context.Context,
	db string, cb func(tx transaction) error) error {
	handle, pres := self.dbs[db]
	if !pres {
		return errUnknownDatabase(db)
	}

	err := ctx.Err()
	if err != nil {
		return err
	}

	// Only one transaction may be open at a time so this also
	// serializes writers.
	tr, err := handle.OpenTransaction()
	if err != nil {
		return errors.Wrap(err, 0)
	}

	err = cb(&levelDBTransaction{tr: tr, stores: databases[db]})
	if err != nil {
		tr.Discard()
		return err
	}

	err = tr.Commit()
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *levelDBBackend) Close() error {
	var result error
	for name, db := range self.dbs {
		err := db.Close()
		if err != nil && result == nil {
			result = errors.Wrap(err, 0)
		}
		delete(self.dbs, name)
	}
	return result
}

type levelDBTransaction struct {
	tr     *leveldb.Transaction
	stores []string
}

func (self *levelDBTransaction) key(store, key string) ([]byte, error) {
	for _, s := range self.stores {
		if s == store {
			return []byte(store + "/" + key), nil
		}
	}
	return nil, errUnknownStore(store)
}

func (self *levelDBTransaction) Get(store, key string) ([]byte, error) {
	db_key, err := self.key(store, key)
	if err != nil {
		return nil, err
	}

	value, err := self.tr.Get(db_key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return value, nil
}

func (self *levelDBTransaction) Put(store, key string, value []byte) error {
	db_key, err := self.key(store, key)
	if err != nil {
		return err
	}

	err = self.tr.Put(db_key, value, nil)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *levelDBTransaction) Delete(store, key string) error {
	db_key, err := self.key(store, key)
	if err != nil {
		return err
	}

	err = self.tr.Delete(db_key, nil)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *levelDBTransaction) Keys(store string) ([]string, error) {
	prefix, err := self.key(store, "")
	if err != nil {
		return nil, err
	}

	var result []string
	iter := self.tr.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		result = append(result,
			strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	iter.Release()

	err = iter.Error()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return result, nil
}

func (self *levelDBTransaction) DeleteAll(store string) error {
	keys, err := self.Keys(store)
	if err != nil {
		return err
	}

	for _, k := range keys {
		err := self.Delete(store, k)
		if err != nil {
			return err
		}
	}
	return nil
}
