package history

import (
	"database/sql"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver registration.
	SQLiteDriverName = "sqlite3_crmscenarios"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{})
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}
