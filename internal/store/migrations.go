package store

// migration holds a single schema migration with its target version and the
// statements to run, per dialect.
type migration struct {
	version    int
	statements map[Dialect][]string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		statements: map[Dialect][]string{
			SQLite: {
				`CREATE TABLE IF NOT EXISTS user_api_keys (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	api_key    TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE (user_id, provider)
)`,
				`CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
)`,
				`CREATE INDEX IF NOT EXISTS idx_items_user_updated ON items (user_id, updated_ts)`,
			},
			Postgres: {
				`CREATE TABLE IF NOT EXISTS user_api_keys (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	api_key    TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE (user_id, provider)
)`,
				`CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
)`,
				`CREATE INDEX IF NOT EXISTS idx_items_user_updated ON items (user_id, updated_ts)`,
			},
			MySQL: {
				`CREATE TABLE IF NOT EXISTS user_api_keys (
	id         VARCHAR(36) PRIMARY KEY,
	user_id    VARCHAR(255) NOT NULL,
	provider   VARCHAR(32) NOT NULL,
	api_key    TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	UNIQUE KEY uq_user_provider (user_id, provider)
)`,
				`CREATE TABLE IF NOT EXISTS items (
	id         VARCHAR(36) PRIMARY KEY,
	user_id    VARCHAR(255) NOT NULL,
	type       VARCHAR(32) NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL,
	KEY idx_items_user_updated (user_id, updated_ts)
)`,
			},
		},
	},
	{
		// created_ts has one-second resolution, so keys saved together
		// need a finer insertion order.
		version: 2,
		statements: map[Dialect][]string{
			SQLite:   {`ALTER TABLE user_api_keys ADD COLUMN created_ns BIGINT NOT NULL DEFAULT 0`},
			Postgres: {`ALTER TABLE user_api_keys ADD COLUMN created_ns BIGINT NOT NULL DEFAULT 0`},
			MySQL:    {`ALTER TABLE user_api_keys ADD COLUMN created_ns BIGINT NOT NULL DEFAULT 0`},
		},
	},
}

const schemaVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`
