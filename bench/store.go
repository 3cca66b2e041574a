package bench

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableRuns = "runs"
)

// Store keeps benchmark rows in a sqlite database, grouped by session.
type Store struct {
	Path string

	db *sql.DB
}

func OpenStore(dbPath string) (*Store, error) {
	db, err := newDB(dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &Store{Path: dbPath, db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Insert records row, replacing an earlier row of the same session, N and procs.
func (s *Store) Insert(ctx context.Context, row Row) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (session, n, procs, steps, serial, parallel, speedup, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableRuns)
	args := []any{row.Session, row.N, row.Procs, row.Steps, row.Serial, row.Parallel, row.Speedup, time.Now().UTC().Format(time.RFC3339)}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// Rows returns the rows of session ordered by N, then procs.
func (s *Store) Rows(ctx context.Context, session string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT n, procs, steps, serial, parallel, speedup FROM %s WHERE session=? ORDER BY n, procs`, tableRuns)
	rows, err := s.db.QueryContext(ctx, sqlStr, session)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	res := make([]Row, 0)
	for rows.Next() {
		r := Row{Session: session}
		if err := rows.Scan(&r.N, &r.Procs, &r.Steps, &r.Serial, &r.Parallel, &r.Speedup); err != nil {
			return nil, errors.Wrap(err, "")
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return res, nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (session TEXT, n INTEGER, procs INTEGER, steps INTEGER, serial REAL, parallel REAL, speedup REAL, created TEXT, PRIMARY KEY (session, n, procs)) STRICT`, tableRuns)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
