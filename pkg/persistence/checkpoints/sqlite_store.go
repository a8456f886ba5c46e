package checkpoints

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/kickoff/pkg/meeting"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite checkpoint store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile returns a DSN for a database file with WAL and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite checkpoint store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT NOT NULL PRIMARY KEY,
			project_slug TEXT NOT NULL,
			project_name TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			phase_number INTEGER NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			created_at_us INTEGER NOT NULL,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS checkpoints_by_project ON checkpoints(project_slug, created_at_us DESC);`,
		`CREATE INDEX IF NOT EXISTS checkpoints_by_session ON checkpoints(session_id, created_at_us DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite checkpoint store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *meeting.State, reason string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, errors.New("sqlite checkpoint store: db is nil")
	}
	rec, err := Encode(state, reason, s.now())
	if err != nil {
		return Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints(id, project_slug, project_name, session_id, phase_number, phase, reason, created_at_us, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload_json = excluded.payload_json
	`, rec.ID, rec.ProjectSlug, rec.ProjectName, rec.SessionID, rec.PhaseNumber, rec.Phase, rec.Reason, rec.CreatedAt.UnixMicro(), string(rec.Payload))
	if err != nil {
		return Record{}, errors.Wrap(err, "sqlite checkpoint store: insert")
	}
	return rec, nil
}

const selectColumns = `id, project_slug, project_name, session_id, phase_number, phase, reason, created_at_us, payload_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (Record, error) {
	var rec Record
	var createdUs int64
	var payload string
	if err := r.Scan(&rec.ID, &rec.ProjectSlug, &rec.ProjectName, &rec.SessionID, &rec.PhaseNumber, &rec.Phase, &rec.Reason, &createdUs, &payload); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.UnixMicro(createdUs).UTC()
	rec.Payload = []byte(payload)
	return rec, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, errors.New("sqlite checkpoint store: db is nil")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM checkpoints WHERE id = ?`, strings.TrimSuffix(id, ".json"))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "sqlite checkpoint store: %s", id)
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "sqlite checkpoint store: load")
	}
	return rec, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, projectSlug string) (Record, error) {
	recs, err := s.List(ctx, Query{ProjectSlug: projectSlug, Limit: 1})
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite checkpoint store: db is nil")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	clauses := []string{}
	args := []any{}
	if v := strings.TrimSpace(q.ProjectSlug); v != "" {
		clauses = append(clauses, "project_slug = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.SessionID); v != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(q.Reason); v != "" {
		clauses = append(clauses, "reason = ?")
		args = append(args, v)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM checkpoints %s ORDER BY created_at_us DESC, id DESC LIMIT ?`, selectColumns, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite checkpoint store: query")
	}
	defer func() { _ = rows.Close() }()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite checkpoint store: scan")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite checkpoint store: rows")
	}
	return out, nil
}
