// An SQLite datastore. Each database is a separate file to avoid
// lock contention between the submission caps and the budgets.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"
	_ "github.com/mattn/go-sqlite3"
)

type sqliteBackend struct {
	handles map[string]*sql.DB
}

// Get the database file for a database name.
func getDBPath(base string, name string) string {
	return filepath.Join(base, name+".sqlite")
}

func newSqliteBackend(location string) (*sqliteBackend, error) {
	if location == "" {
		return nil, errors.New("sqlite datastore needs a location")
	}

	err := os.MkdirAll(location, 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	result := &sqliteBackend{
		handles: make(map[string]*sql.DB),
	}

	for name, stores := range databases {
		// Immediate transactions take the write lock up front so two
		// read-modify-write transactions never interleave.
		handle, err := sql.Open("sqlite3",
			"file:"+getDBPath(location, name)+
				"?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			result.Close()
			return nil, errors.Wrap(err, 0)
		}
		result.handles[name] = handle

		for _, store := range stores {
			_, err = handle.Exec(fmt.Sprintf(
				`CREATE TABLE IF NOT EXISTS %s (
                   name TEXT PRIMARY KEY,
                   value BLOB NOT NULL)`, store))
			if err != nil {
				result.Close()
				return nil, errors.Wrap(err, 0)
			}
		}
	}

	return result, nil
}

func (self *sqliteBackend) Update(ctx context.Context,
	db string, cb func(tx transaction) error) error {
	handle, pres := self.handles[db]
	if !pres {
		return errUnknownDatabase(db)
	}

	tx, err := handle.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	err = cb(&sqliteTransaction{ctx: ctx, tx: tx, stores: databases[db]})
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	err = tx.Commit()
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *sqliteBackend) Close() error {
	var result error
	for name, handle := range self.handles {
		err := handle.Close()
		if err != nil && result == nil {
			result = errors.Wrap(err, 0)
		}
		delete(self.handles, name)
	}
	return result
}

type sqliteTransaction struct {
	ctx    context.Context
	tx     *sql.Tx
	stores []string
}

// Store names become table names so they must be one of ours.
func (self *sqliteTransaction) table(store string) (string, error) {
	for _, s := range self.stores {
		if s == store {
			return s, nil
		}
	}
	return "", errUnknownStore(store)
}

func (self *sqliteTransaction) Get(store, key string) ([]byte, error) {
	table, err := self.table(store)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = self.tx.QueryRowContext(self.ctx,
		"SELECT value FROM "+table+" WHERE name = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return value, nil
}

func (self *sqliteTransaction) Put(store, key string, value []byte) error {
	table, err := self.table(store)
	if err != nil {
		return err
	}

	_, err = self.tx.ExecContext(self.ctx,
		"INSERT OR REPLACE INTO "+table+" (name, value) VALUES (?, ?)",
		key, value)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *sqliteTransaction) Delete(store, key string) error {
	table, err := self.table(store)
	if err != nil {
		return err
	}

	_, err = self.tx.ExecContext(self.ctx,
		"DELETE FROM "+table+" WHERE name = ?", key)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *sqliteTransaction) Keys(store string) ([]string, error) {
	table, err := self.table(store)
	if err != nil {
		return nil, err
	}

	rows, err := self.tx.QueryContext(self.ctx,
		"SELECT name FROM "+table+" ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var key string
		err := rows.Scan(&key)
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		result = append(result, key)
	}

	err = rows.Err()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return result, nil
}

func (self *sqliteTransaction) DeleteAll(store string) error {
	table, err := self.table(store)
	if err != nil {
		return err
	}

	_, err = self.tx.ExecContext(self.ctx, "DELETE FROM "+table)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}
