//go:build cgo && sqlite3_cgo

package db

import _ "github.com/mattn/go-sqlite3"

// built with -tags sqlite3_cgo
var driver = sqlDriver{id: "mattn/go-sqlite3", name: "sqlite3"}
