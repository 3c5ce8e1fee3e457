package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/phid"
	"github.com/joescharf/forge/internal/schema"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Tx    = (*sqliteTx)(nil)
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
	reader
}

// reader implements Reader over any queryer.
type reader struct {
	q queryer
}

// sqliteTx implements Tx over an open *sql.Tx.
type sqliteTx struct {
	reader
	tx *sql.Tx
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access; code inside InTx must use the transaction,
	// never s.db, or it will deadlock waiting for the connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, reader: reader{q: db}}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func epoch(t time.Time) int64 { return t.Unix() }

func fromEpoch(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn in a transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{reader: reader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CheckSchema compares the live table against the declared one and returns
// a description of every difference. An empty result means they match.
func (s *SQLiteStore) CheckSchema(ctx context.Context, table schema.Table) ([]string, error) {
	type liveColumn struct {
		typ     string
		notNull bool
	}
	live := map[string]liveColumn{}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table.Name))
	if err != nil {
		return nil, fmt.Errorf("read table info: %w", err)
	}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		live[name] = liveColumn{typ: strings.ToUpper(typ), notNull: notNull == 1}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table info: %w", err)
	}

	var problems []string
	if len(live) == 0 {
		return []string{fmt.Sprintf("table %s does not exist", table.Name)}, nil
	}

	declared := map[string]bool{}
	for _, c := range table.Columns {
		declared[c.Name] = true
		got, ok := live[c.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("column %s is missing", c.Name))
			continue
		}
		if c.BaseType() == "id" {
			continue
		}
		want, err := schema.SQLiteType(c.Type)
		if err != nil {
			return nil, err
		}
		if got.typ != want {
			problems = append(problems, fmt.Sprintf("column %s has type %s, want %s", c.Name, got.typ, want))
		}
		if got.notNull == c.Nullable() {
			problems = append(problems, fmt.Sprintf("column %s nullability differs (not null=%t)", c.Name, got.notNull))
		}
	}
	var extra []string
	for name := range live {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		problems = append(problems, fmt.Sprintf("column %s is not declared", name))
	}

	for _, k := range table.Keys {
		idx := table.IndexName(k)
		unique, cols, err := s.indexInfo(ctx, table.Name, idx)
		if errors.Is(err, ErrNotFound) {
			problems = append(problems, fmt.Sprintf("index %s is missing", idx))
			continue
		}
		if err != nil {
			return nil, err
		}
		if unique != k.Unique {
			problems = append(problems, fmt.Sprintf("index %s uniqueness differs", idx))
		}
		var want []string
		for _, c := range k.Columns {
			want = append(want, schema.KeyColumn(c))
		}
		if strings.Join(cols, ",") != strings.Join(want, ",") {
			problems = append(problems, fmt.Sprintf("index %s covers (%s), want (%s)", idx, strings.Join(cols, ", "), strings.Join(want, ", ")))
		}
	}

	return problems, nil
}

func (s *SQLiteStore) indexInfo(ctx context.Context, table, index string) (bool, []string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return false, nil, fmt.Errorf("read index list: %w", err)
	}
	found, unique := false, false
	for rows.Next() {
		var (
			seq, uniq, partial int
			name, origin       string
		)
		if err := rows.Scan(&seq, &name, &uniq, &origin, &partial); err != nil {
			_ = rows.Close()
			return false, nil, fmt.Errorf("scan index list: %w", err)
		}
		if name == index {
			found, unique = true, uniq == 1
		}
	}
	_ = rows.Close()
	if !found {
		return false, nil, fmt.Errorf("index %w: %s", ErrNotFound, index)
	}

	rows, err = s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", index))
	if err != nil {
		return false, nil, fmt.Errorf("read index info: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var cols []string
	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return false, nil, fmt.Errorf("scan index info: %w", err)
		}
		cols = append(cols, name.String)
	}
	return unique, cols, rows.Err()
}

// --- Users ---

const userColumns = `id, phid, username, real_name, admin, disabled, editor_pattern, date_created, date_modified`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var created, modified int64
	if err := row.Scan(&u.ID, &u.PHID, &u.Username, &u.RealName, &u.Admin, &u.Disabled, &u.EditorPattern, &created, &modified); err != nil {
		return nil, err
	}
	u.DateCreated = fromEpoch(created)
	u.DateModified = fromEpoch(modified)
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.PHID == "" {
		u.PHID = phid.New(phid.TypeUser)
	}
	t := now()
	u.DateCreated = t
	u.DateModified = t

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phid, username, real_name, admin, disabled, editor_pattern, date_created, date_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.PHID, u.Username, u.RealName, boolToInt(u.Admin), boolToInt(u.Disabled), u.EditorPattern, epoch(t), epoch(t),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (r reader) GetUser(ctx context.Context, p string) (*models.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phid = ?`, p))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r reader) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.DateModified = now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET real_name=?, admin=?, disabled=?, editor_pattern=?, date_modified=? WHERE phid=?`,
		u.RealName, boolToInt(u.Admin), boolToInt(u.Disabled), u.EditorPattern, epoch(u.DateModified), u.PHID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %w: %s", ErrNotFound, u.PHID)
	}
	return nil
}

// --- Repositories ---

const repositoryColumns = `id, phid, callsign, name, vcs, remote_uri, default_branch, tracked, date_created`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	r := &models.Repository{}
	var created int64
	if err := row.Scan(&r.ID, &r.PHID, &r.Callsign, &r.Name, &r.VCS, &r.RemoteURI, &r.DefaultBranch, &r.Tracked, &created); err != nil {
		return nil, err
	}
	r.DateCreated = fromEpoch(created)
	return r, nil
}

func (s *SQLiteStore) CreateRepository(ctx context.Context, r *models.Repository) error {
	if !models.ValidVCS(r.VCS) {
		return fmt.Errorf("create repository: unknown vcs %q", r.VCS)
	}
	if r.PHID == "" {
		r.PHID = phid.New(phid.TypeRepository)
	}
	r.DateCreated = now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (phid, callsign, name, vcs, remote_uri, default_branch, tracked, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PHID, r.Callsign, r.Name, r.VCS, r.RemoteURI, r.DefaultBranch, boolToInt(r.Tracked), epoch(r.DateCreated),
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, p string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE phid = ?`, p))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRepositoryByCallsign(ctx context.Context, callsign string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE callsign = ?`, callsign))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %w: %s", ErrNotFound, callsign)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by callsign: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY callsign`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// --- Markup cache ---

func (s *SQLiteStore) GetMarkupCache(ctx context.Context, key string) (string, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT cache_data FROM markup_cache WHERE cache_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get markup cache: %w", err)
	}
	return data, true, nil
}

func (s *SQLiteStore) PutMarkupCache(ctx context.Context, key, data string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markup_cache (cache_key, cache_data, date_created) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET cache_data = excluded.cache_data, date_created = excluded.date_created`,
		key, data, epoch(now()),
	)
	if err != nil {
		return fmt.Errorf("put markup cache: %w", err)
	}
	return nil
}

// --- Destruction log ---

func (t *sqliteTx) RecordDestruction(ctx context.Context, objectPHID, rootPHID string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO destruction_log (object_phid, root_phid, object_type, date_created) VALUES (?, ?, ?, ?)`,
		objectPHID, rootPHID, phid.TypeOf(objectPHID), epoch(now()),
	)
	if err != nil {
		return fmt.Errorf("record destruction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDestructionLog(ctx context.Context, limit int) ([]*DestructionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_phid, root_phid, object_type, date_created FROM destruction_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list destruction log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*DestructionRecord
	for rows.Next() {
		r := &DestructionRecord{}
		if err := rows.Scan(&r.ID, &r.ObjectPHID, &r.RootPHID, &r.ObjectType, &r.DateCreated); err != nil {
			return nil, fmt.Errorf("scan destruction record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
