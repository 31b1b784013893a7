// Package dbtest holds the behaviour every storedb backend must share.
package dbtest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Aurorachain/dappshell/storedb"
)

// TestDatabaseSuite runs the shared backend tests against databases created
// by New.
func TestDatabaseSuite(t *testing.T, New func() storedb.Database) {
	t.Run("PutGetDelete", func(t *testing.T) {
		db := New()
		defer db.Close()

		if _, err := db.Get([]byte("missing")); !errors.Is(err, storedb.ErrNotFound) {
			t.Fatalf("missing key: have %v, want %v", err, storedb.ErrNotFound)
		}
		if err := db.Put([]byte("k"), []byte("v1")); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := db.Put([]byte("k"), []byte("v2")); err != nil {
			t.Fatalf("overwrite failed: %v", err)
		}
		got, err := db.Get([]byte("k"))
		if err != nil || !bytes.Equal(got, []byte("v2")) {
			t.Fatalf("get: have %q %v, want v2", got, err)
		}
		if ok, _ := db.Has([]byte("k")); !ok {
			t.Fatal("has: key reported missing")
		}
		if err := db.Delete([]byte("k")); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if ok, _ := db.Has([]byte("k")); ok {
			t.Fatal("has: deleted key still present")
		}
	})

	t.Run("PrefixIteration", func(t *testing.T) {
		db := New()
		defer db.Close()

		for _, k := range []string{"b-2", "a-1", "b-1", "c-1", "b-3"} {
			if err := db.Put([]byte(k), []byte("val-"+k)); err != nil {
				t.Fatalf("put %s: %v", k, err)
			}
		}
		it := db.NewIteratorWithPrefix([]byte("b-"))
		defer it.Release()

		var keys []string
		for it.Next() {
			keys = append(keys, string(it.Key()))
			if want := "val-" + string(it.Key()); string(it.Value()) != want {
				t.Fatalf("value for %s: have %q, want %q", it.Key(), it.Value(), want)
			}
		}
		if err := it.Error(); err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		want := []string{"b-1", "b-2", "b-3"}
		if len(keys) != len(want) {
			t.Fatalf("keys: have %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("keys: have %v, want %v", keys, want)
			}
		}
	})

	t.Run("Batch", func(t *testing.T) {
		db := New()
		defer db.Close()

		db.Put([]byte("gone"), []byte("x"))
		b := db.NewBatch()
		b.Put([]byte("one"), []byte("1"))
		b.Put([]byte("two"), []byte("22"))
		b.Delete([]byte("gone"))
		if b.ValueSize() != 4 {
			t.Fatalf("value size: have %d, want 4", b.ValueSize())
		}
		if ok, _ := db.Has([]byte("one")); ok {
			t.Fatal("batch applied before Write")
		}
		if err := b.Write(); err != nil {
			t.Fatalf("batch write failed: %v", err)
		}
		for k, v := range map[string]string{"one": "1", "two": "22"} {
			got, err := db.Get([]byte(k))
			if err != nil || string(got) != v {
				t.Fatalf("get %s: have %q %v, want %q", k, got, err, v)
			}
		}
		if ok, _ := db.Has([]byte("gone")); ok {
			t.Fatal("batched delete not applied")
		}
		b.Reset()
		if b.ValueSize() != 0 {
			t.Fatal("reset did not clear the batch")
		}
	})

	t.Run("Table", func(t *testing.T) {
		db := New()
		defer db.Close()

		settings := storedb.NewTable(db, "settings-")
		accounts := storedb.NewTable(db, "account-")
		settings.Put([]byte("activeAddress"), []byte("0xabc"))
		accounts.Put([]byte("0x02"), []byte("b"))
		accounts.Put([]byte("0x01"), []byte("a"))

		raw, err := db.Get([]byte("settings-activeAddress"))
		if err != nil || string(raw) != "0xabc" {
			t.Fatalf("table key not prefixed: %q %v", raw, err)
		}
		it := accounts.NewIteratorWithPrefix(nil)
		var keys []string
		for it.Next() {
			keys = append(keys, string(it.Key()))
		}
		it.Release()
		if len(keys) != 2 || keys[0] != "0x01" || keys[1] != "0x02" {
			t.Fatalf("table iteration: have %v", keys)
		}
		if err := storedb.DeletePrefix(accounts, nil); err != nil {
			t.Fatalf("delete prefix: %v", err)
		}
		if ok, _ := db.Has([]byte("account-0x01")); ok {
			t.Fatal("table entries survived DeletePrefix")
		}
		if ok, _ := db.Has([]byte("settings-activeAddress")); !ok {
			t.Fatal("DeletePrefix removed keys outside the table")
		}
	})
}
