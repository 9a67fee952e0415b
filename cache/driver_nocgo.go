//go:build !cgo

package cache

// go-sqlite3 registers a stub that fails on open without cgo.
import _ "github.com/mattn/go-sqlite3"

const cgoDriverName = DriverCGO
