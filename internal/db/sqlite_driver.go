package db

import (
	"database/sql"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver name.
	SQLiteDriverName = "sqlite3_notevault"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{})
}
