// Package sqlitedb implements storedb.Database as a single key/value table in
// a SQLite file.
package sqlitedb

import (
	"database/sql"
	"errors"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/storedb"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID`

// Database is a storedb.Database backed by SQLite.
type Database struct {
	fn string
	db *sql.DB
}

// New opens (or creates) the SQLite file at path.
func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Opened sqlite store", "path", path)
	return &Database{fn: path, db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) Has(key []byte) (bool, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE key = ?`, key).Scan(&n)
	return n > 0, err
}

func (db *Database) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storedb.ErrNotFound
	}
	return value, err
}

func (db *Database) Put(key []byte, value []byte) error {
	_, err := db.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, nonNil(value))
	return err
}

func (db *Database) Delete(key []byte) error {
	_, err := db.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// NewIteratorWithPrefix loads the rows under prefix in key order.
func (db *Database) NewIteratorWithPrefix(prefix []byte) storedb.Iterator {
	var (
		rows *sql.Rows
		err  error
	)
	if limit := prefixLimit(prefix); limit != nil {
		rows, err = db.db.Query(`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`, nonNil(prefix), limit)
	} else {
		rows, err = db.db.Query(`SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, nonNil(prefix))
	}
	it := &iterator{index: -1}
	if err != nil {
		it.err = err
		return it
	}
	defer rows.Close()
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			it.err = err
			return it
		}
		it.keys = append(it.keys, k)
		it.values = append(it.values, v)
	}
	it.err = rows.Err()
	return it
}

func (db *Database) NewBatch() storedb.Batch {
	return &batch{db: db.db}
}

// prefixLimit returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixLimit(prefix []byte) []byte {
	limit := append([]byte{}, prefix...)
	for i := len(limit) - 1; i >= 0; i-- {
		if limit[i] < 0xff {
			limit[i]++
			return limit[:i+1]
		}
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

type op struct {
	key, value []byte
	delete     bool
}

type batch struct {
	db   *sql.DB
	ops  []op
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.ops = append(b.ops, op{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	b.size += len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.ops = append(b.ops, op{key: append([]byte{}, key...), delete: true})
	b.size++
	return nil
}

func (b *batch) ValueSize() int { return b.size }

// Write applies the queued operations in a single transaction.
func (b *batch) Write() error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	for _, o := range b.ops {
		if o.delete {
			_, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, o.key)
		} else {
			_, err = tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, o.key, nonNil(o.value))
		}
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

type iterator struct {
	keys   [][]byte
	values [][]byte
	index  int
	err    error
}

func (it *iterator) Next() bool {
	if it.err != nil || it.index >= len(it.keys) {
		return false
	}
	it.index++
	return it.index < len(it.keys)
}

func (it *iterator) Key() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return it.keys[it.index]
}

func (it *iterator) Value() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return it.values[it.index]
}

func (it *iterator) Error() error { return it.err }
func (it *iterator) Release()     { it.keys, it.values = nil, nil }
