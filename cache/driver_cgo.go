//go:build cgo

package cache

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
)

const cgoDriverName = "sqlite3_coverage"

func init() {
	sql.Register(cgoDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA temp_store = MEMORY", nil)
			return err
		},
	})
}
