//go:build !sqlite3_cgo

package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var driver = sqlDriver{id: "ncruces/go-sqlite3", name: "sqlite3"}
