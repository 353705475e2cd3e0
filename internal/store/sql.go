package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour and database/sql driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// ErrNotFound is returned when a delete matches no row.
var ErrNotFound = errors.New("not found")

// ParseDialect maps a configured driver name onto a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(driver))); d {
	case SQLite, Postgres, MySQL:
		return d, nil
	case "sqlite3":
		return SQLite, nil
	case "postgresql":
		return Postgres, nil
	}
	return "", errors.Errorf("unsupported database driver %q", driver)
}

// SQLStore implements Store on top of sqlx for sqlite, postgres and mysql.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database and runs any pending schema migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", dialect)
	}

	if dialect == SQLite {
		// A single connection keeps ":memory:" databases shared and
		// serializes writers.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, errors.Wrapf(err, "failed to apply %q", pragma)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return s, nil
}

// Dialect reports the SQL flavour in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// migrate checks the current schema version and applies any outstanding
// migrations in order.
func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaVersionTable); err != nil {
		return errors.Wrap(err, "failed to create schema_version table")
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin migration")
		}
		for _, stmt := range m.statements[s.dialect] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "failed to apply migration v%d", m.version)
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "failed to record migration v%d", m.version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration v%d", m.version)
		}
	}
	return nil
}

const credentialColumns = "id, user_id, provider, api_key, is_active, created_ts, updated_ts"

// insertClock hands out strictly increasing nanosecond stamps so rows
// inserted by this process keep their insertion order.
var insertClock struct {
	sync.Mutex
	last int64
}

func nextInsertStamp(now time.Time) int64 {
	insertClock.Lock()
	defer insertClock.Unlock()

	ns := now.UnixNano()
	if ns <= insertClock.last {
		ns = insertClock.last + 1
	}
	insertClock.last = ns
	return ns
}

func (s *SQLStore) ListActiveCredentials(ctx context.Context, userID string) ([]Credential, error) {
	query := s.db.Rebind(`SELECT ` + credentialColumns + ` FROM user_api_keys
		WHERE user_id = ? AND is_active = ?
		ORDER BY created_ns ASC, created_ts ASC, provider ASC`)

	list := []Credential{}
	if err := s.db.SelectContext(ctx, &list, query, userID, true); err != nil {
		return nil, errors.Wrap(err, "failed to load credentials")
	}
	return list, nil
}

func (s *SQLStore) ListCredentials(ctx context.Context, userID string) ([]Credential, error) {
	query := s.db.Rebind(`SELECT ` + credentialColumns + ` FROM user_api_keys
		WHERE user_id = ?
		ORDER BY created_ns ASC, created_ts ASC, provider ASC`)

	list := []Credential{}
	if err := s.db.SelectContext(ctx, &list, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to list credentials")
	}
	return list, nil
}

func (s *SQLStore) UpsertCredential(ctx context.Context, c *Credential) error {
	if c.UserID == "" || c.Provider == "" {
		return errors.New("credential requires user and provider")
	}
	t := time.Now()
	now := t.Unix()

	var upsert string
	switch s.dialect {
	case MySQL:
		upsert = `INSERT INTO user_api_keys (` + credentialColumns + `, created_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE api_key = VALUES(api_key), is_active = VALUES(is_active), updated_ts = VALUES(updated_ts)`
	default:
		upsert = `INSERT INTO user_api_keys (` + credentialColumns + `, created_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, provider) DO UPDATE SET api_key = excluded.api_key, is_active = excluded.is_active, updated_ts = excluded.updated_ts`
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsert), id, c.UserID, c.Provider, c.APIKey, c.Active, now, now, nextInsertStamp(t)); err != nil {
		return errors.Wrap(err, "failed to upsert credential")
	}

	query := s.db.Rebind(`SELECT ` + credentialColumns + ` FROM user_api_keys WHERE user_id = ? AND provider = ?`)
	if err := s.db.GetContext(ctx, c, query, c.UserID, c.Provider); err != nil {
		return errors.Wrap(err, "failed to reload credential")
	}
	return nil
}

func (s *SQLStore) DeleteCredential(ctx context.Context, userID, provider string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_api_keys WHERE user_id = ? AND provider = ?`), userID, provider)
	if err != nil {
		return errors.Wrap(err, "failed to delete credential")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to delete credential")
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, fmt.Sprintf("no %s credential for user", provider))
	}
	return nil
}

func (s *SQLStore) ListRecentItems(ctx context.Context, userID string, limit int) ([]Item, error) {
	list := []Item{}
	if limit <= 0 {
		return list, nil
	}

	query := s.db.Rebind(`SELECT id, user_id, type, title, content, created_ts, updated_ts FROM items
		WHERE user_id = ?
		ORDER BY updated_ts DESC, id ASC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &list, query, userID, limit); err != nil {
		return nil, errors.Wrap(err, "failed to load items")
	}
	return list, nil
}

func (s *SQLStore) CreateItem(ctx context.Context, item *Item) error {
	if item.UserID == "" || item.Type == "" {
		return errors.New("item requires user and type")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	if item.CreatedTs == 0 {
		item.CreatedTs = now
	}
	if item.UpdatedTs == 0 {
		item.UpdatedTs = item.CreatedTs
	}

	stmt := s.db.Rebind(`INSERT INTO items (id, user_id, type, title, content, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, stmt, item.ID, item.UserID, item.Type, item.Title, item.Content, item.CreatedTs, item.UpdatedTs); err != nil {
		return errors.Wrap(err, "failed to create item")
	}
	return nil
}
