// Package docstore keeps collections of JSON documents in SQLite and
// notifies watchers when a collection changes.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidPath = errors.New("invalid collection path")
	ErrInvalidSort = errors.New("invalid order-by field")
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(path, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_path_seq ON documents(path, seq);
`

// Document is one stored record.
type Document struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Query selects a bounded window of a collection. An empty OrderBy returns
// documents in insertion order.
type Query struct {
	Path    string
	Limit   int
	OrderBy string
}

type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	ch chan struct{}
}

// Open opens (and migrates) the database at path. ":memory:" is allowed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{
		db:       db,
		watchers: make(map[string]map[*watcher]struct{}),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ValidatePath checks that p names a collection: non-empty segments, odd count.
func ValidatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	if len(parts)%2 == 0 {
		return fmt.Errorf("%w: %q names a document, not a collection", ErrInvalidPath, p)
	}
	return nil
}

// Add inserts a document with a generated id.
func (s *Store) Add(ctx context.Context, path string, fields map[string]any) (Document, error) {
	return s.Set(ctx, path, ulid.Make().String(), fields)
}

// Set creates or replaces the document id in path. Replacing keeps the
// document's original insertion position.
func (s *Store) Set(ctx context.Context, path, id string, fields map[string]any) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, err
	}
	if id == "" || strings.Contains(id, "/") {
		return Document{}, fmt.Errorf("invalid document id %q", id)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return Document{}, fmt.Errorf("encode fields: %w", err)
	}

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, id, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`,
		path, id, string(data), ts, ts)
	if err != nil {
		return Document{}, fmt.Errorf("set %s/%s: %w", path, id, err)
	}

	s.notify(path)
	return s.Get(ctx, path, id)
}

func (s *Store) Get(ctx context.Context, path, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents WHERE path = ? AND id = ?`, path, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func (s *Store) Delete(ctx context.Context, path, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ? AND id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", path, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(path)
	return nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(ctx context.Context, path string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE path = ?`, path).Scan(&n)
	return n, err
}

// Run executes q. A non-positive limit returns the whole collection.
func (s *Store) Run(ctx context.Context, q Query) ([]Document, error) {
	if err := ValidatePath(q.Path); err != nil {
		return nil, err
	}

	order := "seq"
	args := []any{q.Path}
	if q.OrderBy != "" {
		if !fieldName.MatchString(q.OrderBy) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSort, q.OrderBy)
		}
		order = "json_extract(fields, ?), seq"
		args = append(args, "$."+q.OrderBy)
	}
	stmt := `SELECT id, fields, created_at, updated_at FROM documents WHERE path = ? ORDER BY ` + order
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Path, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Watch returns a channel that receives a value (coalesced) whenever the
// collection at path changes. The cancel func must be called to release it.
func (s *Store) Watch(path string) (<-chan struct{}, func()) {
	w := &watcher{ch: make(chan struct{}, 1)}

	s.mu.Lock()
	set, ok := s.watchers[path]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[path] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[path], w)
			if len(s.watchers[path]) == 0 {
				delete(s.watchers, path)
			}
			s.mu.Unlock()
		})
	}
	return w.ch, cancel
}

// WatcherCount reports active watchers for path.
func (s *Store) WatcherCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[path])
}

func (s *Store) notify(path string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers[path] {
		select {
		case w.ch <- struct{}{}:
		default:
			// Already pending.
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var (
		doc                  Document
		fields               string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&doc.ID, &fields, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal([]byte(fields), &doc.Fields); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return doc, nil
}
