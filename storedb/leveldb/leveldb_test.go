package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/Aurorachain/dappshell/storedb"
	"github.com/Aurorachain/dappshell/storedb/dbtest"
)

func TestLevelDB(t *testing.T) {
	dbtest.TestDatabaseSuite(t, func() storedb.Database {
		db, err := New(filepath.Join(t.TempDir(), "store"), 0, 0)
		if err != nil {
			t.Fatalf("can't open leveldb: %v", err)
		}
		return db
	})
}
