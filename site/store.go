package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS distributions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	url        TEXT NOT NULL,
	version    TEXT NOT NULL,
	build      INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_distributions_type ON distributions(type);
CREATE INDEX IF NOT EXISTS idx_distributions_type_url ON distributions(type, url);
CREATE INDEX IF NOT EXISTS idx_distributions_created ON distributions(created_at);
`

// SaveOutcome reports what Save did with an artifact.
type SaveOutcome int

const (
	Unchanged SaveOutcome = iota
	Inserted
	Updated
)

func (o SaveOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Store persists distribution records in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the database at path. Use ":memory:" in tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) CreateSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Save records an observed artifact. Fixed-URL types keep one row per
// (type, url) that is rewritten when its version or build changes; every
// other type keeps one row per distinct (type, url, version, build).
func (s *Store) Save(ctx context.Context, t Type, url, version string, build *int) (SaveOutcome, error) {
	if t.FixedURL() {
		outcome, err := s.updateFixed(ctx, t, url, version, build)
		if err != nil || outcome != Inserted {
			return outcome, err
		}
	} else {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM distributions WHERE type = ? AND url = ? AND version = ? AND build IS ? LIMIT 1`,
			string(t), url, version, nullBuild(build),
		).Scan(&id)
		if err == nil {
			return Unchanged, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Unchanged, fmt.Errorf("looking up %s: %w", t, err)
		}
	}

	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO distributions (type, url, version, build, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(t), url, version, nullBuild(build), now, now,
	)
	if err != nil {
		return Unchanged, fmt.Errorf("inserting %s: %w", t, err)
	}
	return Inserted, nil
}

// updateFixed returns Inserted when no row exists yet and the caller
// should insert one.
func (s *Store) updateFixed(ctx context.Context, t Type, url, version string, build *int) (SaveOutcome, error) {
	var (
		id         int64
		oldVersion string
		oldBuild   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version, build FROM distributions WHERE type = ? AND url = ? ORDER BY id DESC LIMIT 1`,
		string(t), url,
	).Scan(&id, &oldVersion, &oldBuild)
	if errors.Is(err, sql.ErrNoRows) {
		return Inserted, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("looking up %s: %w", t, err)
	}

	if oldVersion == version && sameBuild(oldBuild, build) {
		return Unchanged, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE distributions SET version = ?, build = ?, updated_at = ? WHERE id = ?`,
		version, nullBuild(build), s.now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return Unchanged, fmt.Errorf("updating %s: %w", t, err)
	}
	return Updated, nil
}

// ListByType returns every row for t, newest first.
func (s *Store) ListByType(ctx context.Context, t Type) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, url, version, build, created_at, updated_at
		 FROM distributions WHERE type = ? ORDER BY created_at DESC, id DESC`,
		string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", t, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Latest returns the selected record for each requested type, or nil when a
// type has no rows. With no types given, every known type is returned.
func (s *Store) Latest(ctx context.Context, types ...Type) (map[Type]*Record, error) {
	if len(types) == 0 {
		types = AllTypes
	}
	latest := make(map[Type]*Record, len(types))
	for _, t := range types {
		records, err := s.ListByType(ctx, t)
		if err != nil {
			return nil, err
		}
		latest[t] = SelectLatest(records)
	}
	return latest, nil
}

// Count returns the number of rows stored for t.
func (s *Store) Count(ctx context.Context, t Type) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM distributions WHERE type = ?`, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", t, err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		r                Record
		typ              string
		build            sql.NullInt64
		created, updated string
	)
	if err := rows.Scan(&r.ID, &typ, &r.URL, &r.Version, &build, &created, &updated); err != nil {
		return nil, fmt.Errorf("scanning distribution: %w", err)
	}
	r.Type = Type(typ)
	if build.Valid {
		r.Build = intPtr(int(build.Int64))
	}
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// timeLayout is fixed width so that text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullBuild(b *int) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*b), Valid: true}
}

func sameBuild(stored sql.NullInt64, b *int) bool {
	if !stored.Valid || b == nil {
		return !stored.Valid && b == nil
	}
	return stored.Int64 == int64(*b)
}
