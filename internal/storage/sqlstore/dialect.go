package sqlstore

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// dialect captures the SQL differences between the embedded SQLite backend
// and a MySQL-protocol server (MySQL, MariaDB, Dolt sql-server).
type dialect struct {
	name         string
	driver       string
	insertIgnore string   // INSERT variant that skips unique-key conflicts
	schema       []string // Statements executed in order by Initialize
	migrations   map[int]string
	retry        bool // Retry transient connection errors
}

var sqliteDialect = dialect{
	name:         "sqlite",
	driver:       "sqlite",
	insertIgnore: "INSERT OR IGNORE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS meta (
	meta_key   TEXT PRIMARY KEY,
	meta_value TEXT
)`,
		`CREATE TABLE IF NOT EXISTS users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL COLLATE NOCASE UNIQUE,
	name     TEXT NOT NULL DEFAULT '',
	email    TEXT COLLATE NOCASE UNIQUE
)`,
		`CREATE TABLE IF NOT EXISTS issues (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   INTEGER NOT NULL,
	remote_id    TEXT NOT NULL,
	identifier   TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT 'open',
	author_id    INTEGER REFERENCES users(id) ON DELETE SET NULL,
	assignee_id  INTEGER REFERENCES users(id) ON DELETE SET NULL,
	external_url TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	closed_at    TEXT,
	UNIQUE(project_id, remote_id)
)`,
		`CREATE TABLE IF NOT EXISTS issue_labels (
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	label    TEXT NOT NULL,
	PRIMARY KEY (issue_id, position)
)`,
		`CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id   INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	remote_id  TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	author_id  INTEGER REFERENCES users(id) ON DELETE SET NULL,
	created_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS import_sessions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      INTEGER NOT NULL,
	tracker         TEXT NOT NULL,
	endpoint        TEXT NOT NULL DEFAULT '',
	next_cursor     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	pages_fetched   INTEGER NOT NULL DEFAULT 0,
	issues_imported INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT,
	updated_at      TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_project_state ON issues(project_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_issue ON notes(issue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_import_sessions_project ON import_sessions(project_id, id)`,
	},
	migrations: map[int]string{
		2: `CREATE INDEX IF NOT EXISTS idx_import_sessions_project ON import_sessions(project_id, id)`,
	},
}

var mysqlDialect = dialect{
	name:         "mysql",
	driver:       "mysql",
	insertIgnore: "INSERT IGNORE",
	retry:        true,
	schema: []string{
		"CREATE TABLE IF NOT EXISTS meta (\n" +
			"	meta_key   VARCHAR(64) PRIMARY KEY,\n" +
			"	meta_value TEXT\n" +
			")",
		"CREATE TABLE IF NOT EXISTS users (\n" +
			"	id       BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
			"	username VARCHAR(255) NOT NULL UNIQUE,\n" +
			"	name     VARCHAR(255) NOT NULL DEFAULT '',\n" +
			"	email    VARCHAR(255) UNIQUE\n" +
			")",
		"CREATE TABLE IF NOT EXISTS issues (\n" +
			"	id           BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
			"	project_id   BIGINT NOT NULL,\n" +
			"	remote_id    VARCHAR(255) NOT NULL,\n" +
			"	identifier   VARCHAR(255) NOT NULL DEFAULT '',\n" +
			"	title        VARCHAR(500) NOT NULL,\n" +
			"	description  LONGTEXT NOT NULL,\n" +
			"	state        VARCHAR(16) NOT NULL DEFAULT 'open',\n" +
			"	author_id    BIGINT NULL,\n" +
			"	assignee_id  BIGINT NULL,\n" +
			"	external_url TEXT NOT NULL,\n" +
			"	created_at   VARCHAR(40) NOT NULL,\n" +
			"	updated_at   VARCHAR(40) NOT NULL,\n" +
			"	closed_at    VARCHAR(40) NULL,\n" +
			"	UNIQUE KEY uniq_issues_remote (project_id, remote_id),\n" +
			"	KEY idx_issues_project_state (project_id, state)\n" +
			")",
		"CREATE TABLE IF NOT EXISTS issue_labels (\n" +
			"	issue_id BIGINT NOT NULL,\n" +
			"	position INT NOT NULL,\n" +
			"	label    VARCHAR(255) NOT NULL,\n" +
			"	PRIMARY KEY (issue_id, position)\n" +
			")",
		"CREATE TABLE IF NOT EXISTS notes (\n" +
			"	id         BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
			"	issue_id   BIGINT NOT NULL,\n" +
			"	remote_id  VARCHAR(255) NOT NULL DEFAULT '',\n" +
			"	body       LONGTEXT NOT NULL,\n" +
			"	author_id  BIGINT NULL,\n" +
			"	created_at VARCHAR(40) NOT NULL,\n" +
			"	KEY idx_notes_issue (issue_id)\n" +
			")",
		"CREATE TABLE IF NOT EXISTS import_sessions (\n" +
			"	id              BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
			"	project_id      BIGINT NOT NULL,\n" +
			"	tracker         VARCHAR(64) NOT NULL,\n" +
			"	endpoint        TEXT NOT NULL,\n" +
			"	next_cursor     VARCHAR(255) NOT NULL DEFAULT '',\n" +
			"	status          VARCHAR(16) NOT NULL,\n" +
			"	last_error      TEXT NOT NULL,\n" +
			"	pages_fetched   INT NOT NULL DEFAULT 0,\n" +
			"	issues_imported INT NOT NULL DEFAULT 0,\n" +
			"	created_at      VARCHAR(40) NOT NULL,\n" +
			"	started_at      VARCHAR(40) NULL,\n" +
			"	finished_at     VARCHAR(40) NULL,\n" +
			"	updated_at      VARCHAR(40) NOT NULL,\n" +
			"	KEY idx_import_sessions_project (project_id, id)\n" +
			")",
	},
	migrations: map[int]string{
		2: "CREATE INDEX idx_import_sessions_project ON import_sessions(project_id, id)",
	},
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "mysql", "dolt":
		return mysqlDialect, nil
	}
	return dialect{}, errors.New("unsupported database driver " + driver + " (want sqlite or mysql)")
}

// isDuplicateKey reports whether err is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isRetryableError returns true if the error is a transient connection error
// worth retrying against a server backend.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, transient := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}
