// Package ledger records the artifacts built by previous runs, so that a
// re-run skips WorkItems whose artifact is still present and unmodified.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/distr1/whey"
	"golang.org/x/xerrors"
	"lukechampine.com/blake3"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	name        TEXT NOT NULL,
	version     TEXT NOT NULL,
	variant     TEXT NOT NULL,
	path        TEXT NOT NULL,
	digest      TEXT NOT NULL,
	size        INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (name, version, variant)
);
`

// Entry is one recorded artifact.
type Entry struct {
	whey.Artifact
	Digest     string
	Size       int64
	RecordedAt time.Time
}

// Ledger is a SQLite database of built artifacts.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating, if necessary) the ledger at path.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, xerrors.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Digest returns the hex-encoded BLAKE3 digest of the file at path, and its
// size.
func Digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}

// Record stores the artifact at path as the result of building item,
// replacing any previous entry.
func (l *Ledger) Record(ctx context.Context, item whey.WorkItem, path string) error {
	digest, size, err := Digest(path)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
INSERT OR REPLACE INTO artifacts (name, version, variant, path, digest, size, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Name, item.Version, string(item.Variant), path, digest, size, time.Now().Unix())
	if err != nil {
		return xerrors.Errorf("record %v: %w", item, err)
	}
	return nil
}

// Get returns the entry of item as recorded, without looking at the file.
// ok is false if item was never recorded.
func (l *Ledger) Get(ctx context.Context, item whey.WorkItem) (_ Entry, ok bool, _ error) {
	var (
		e          = Entry{Artifact: whey.Artifact{Item: item}}
		recordedAt int64
	)
	err := l.db.QueryRowContext(ctx, `
SELECT path, digest, size, recorded_at FROM artifacts
WHERE name = ? AND version = ? AND variant = ?`,
		item.Name, item.Version, string(item.Variant)).Scan(&e.Path, &e.Digest, &e.Size, &recordedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.RecordedAt = time.Unix(recordedAt, 0)
	return e, true, nil
}

// Lookup returns the artifact recorded for item if the file still exists with
// the recorded digest and, unless dir is empty, lies directly in dir. Stale
// entries are removed.
func (l *Ledger) Lookup(ctx context.Context, item whey.WorkItem, dir string) (_ whey.Artifact, ok bool, _ error) {
	e, ok, err := l.Get(ctx, item)
	if err != nil || !ok {
		return whey.Artifact{}, false, err
	}
	if dir != "" && filepath.Dir(e.Path) != filepath.Clean(dir) {
		return whey.Artifact{}, false, l.Forget(ctx, item)
	}
	digest, size, err := Digest(e.Path)
	if err != nil && !os.IsNotExist(err) {
		return whey.Artifact{}, false, err
	}
	if err != nil || digest != e.Digest || size != e.Size {
		return whey.Artifact{}, false, l.Forget(ctx, item)
	}
	return e.Artifact, true, nil
}

// Forget removes the entry of item.
func (l *Ledger) Forget(ctx context.Context, item whey.WorkItem) error {
	_, err := l.db.ExecContext(ctx, `
DELETE FROM artifacts WHERE name = ? AND version = ? AND variant = ?`,
		item.Name, item.Version, string(item.Variant))
	return err
}

// Entries returns all recorded entries of variant, ordered by name and
// version.
func (l *Ledger) Entries(ctx context.Context, variant whey.Variant) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT name, version, path, digest, size, recorded_at FROM artifacts
WHERE variant = ? ORDER BY name, version`, string(variant))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			recordedAt int64
		)
		if err := rows.Scan(&e.Item.Name, &e.Item.Version, &e.Path, &e.Digest, &e.Size, &recordedAt); err != nil {
			return nil, err
		}
		e.Item.Variant = variant
		e.RecordedAt = time.Unix(recordedAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
