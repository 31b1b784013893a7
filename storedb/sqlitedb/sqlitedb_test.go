package sqlitedb

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/Aurorachain/dappshell/storedb"
	"github.com/Aurorachain/dappshell/storedb/dbtest"
)

func TestSQLiteDB(t *testing.T) {
	dbtest.TestDatabaseSuite(t, func() storedb.Database {
		db, err := New(filepath.Join(t.TempDir(), "store.sqlite"))
		if err != nil {
			t.Fatalf("can't open sqlite store: %v", err)
		}
		return db
	})
}

func TestPrefixLimit(t *testing.T) {
	tests := []struct{ in, want []byte }{
		{[]byte("a-"), []byte("a.")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := prefixLimit(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixLimit(%x) = %x, want %x", tt.in, got, tt.want)
		}
	}
}
