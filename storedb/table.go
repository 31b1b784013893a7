package storedb

type table struct {
	db     Database
	prefix string
}

// NewTable returns a Database view that transparently prefixes every key
// with prefix. Closing a table does not close the underlying database.
func NewTable(db Database, prefix string) Database {
	return &table{db: db, prefix: prefix}
}

func (t *table) key(key []byte) []byte {
	return append([]byte(t.prefix), key...)
}

func (t *table) Has(key []byte) (bool, error) {
	return t.db.Has(t.key(key))
}

func (t *table) Get(key []byte) ([]byte, error) {
	return t.db.Get(t.key(key))
}

func (t *table) Put(key []byte, value []byte) error {
	return t.db.Put(t.key(key), value)
}

func (t *table) Delete(key []byte) error {
	return t.db.Delete(t.key(key))
}

func (t *table) Close() error {
	return nil
}

func (t *table) NewIteratorWithPrefix(prefix []byte) Iterator {
	return &tableIterator{it: t.db.NewIteratorWithPrefix(t.key(prefix)), prefix: len(t.prefix)}
}

func (t *table) NewBatch() Batch {
	return &tableBatch{batch: t.db.NewBatch(), prefix: t.prefix}
}

type tableIterator struct {
	it     Iterator
	prefix int
}

func (it *tableIterator) Next() bool    { return it.it.Next() }
func (it *tableIterator) Value() []byte { return it.it.Value() }
func (it *tableIterator) Error() error  { return it.it.Error() }
func (it *tableIterator) Release()      { it.it.Release() }

func (it *tableIterator) Key() []byte {
	key := it.it.Key()
	if key == nil {
		return nil
	}
	return key[it.prefix:]
}

type tableBatch struct {
	batch  Batch
	prefix string
}

func (b *tableBatch) Put(key, value []byte) error {
	return b.batch.Put(append([]byte(b.prefix), key...), value)
}

func (b *tableBatch) Delete(key []byte) error {
	return b.batch.Delete(append([]byte(b.prefix), key...))
}

func (b *tableBatch) ValueSize() int { return b.batch.ValueSize() }
func (b *tableBatch) Write() error   { return b.batch.Write() }
func (b *tableBatch) Reset()         { b.batch.Reset() }

// DeletePrefix removes every key under prefix in one batch.
func DeletePrefix(db Database, prefix []byte) error {
	it := db.NewIteratorWithPrefix(prefix)
	defer it.Release()

	batch := db.NewBatch()
	for it.Next() {
		if err := batch.Delete(append([]byte{}, it.Key()...)); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	return batch.Write()
}
