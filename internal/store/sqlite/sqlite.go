// Package sqlite provides a persistent store backend over a single kv table,
// using the same database/sql + modernc driver setup as the rest of the
// project's local storage. Watch notifications are in-process only: a path
// changed by another process is not observed until re-read.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/npopovs/filevault/internal/common"
	"github.com/npopovs/filevault/internal/dbx"
	"github.com/npopovs/filevault/internal/store"
)

// Store implements store.Store on a sqlite database.
type Store struct {
	db  *sql.DB
	hub *store.Hub

	// mu serializes writes with their hub publications so watchers never
	// observe snapshots out of order.
	mu sync.Mutex
}

// Open opens (or creates) a sqlite database at path and prepares the schema.
// Use a "file:...?mode=memory&cache=shared" DSN for tests.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := initSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS kv (
  path  TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db, hub: store.NewHub()}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE path = ?`, path)

	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", path, common.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO kv (path, value) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, path, value); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", path, err)
	}

	s.hub.PublishValue(path, value)
	s.publishParentLocked(ctx, path)
	return nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM kv WHERE path = ? OR path LIKE ? || '/%'`
	res, err := s.db.ExecContext(ctx, query, path, path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.hub.PublishValue(path, nil)
		if children, err := s.children(ctx, path); err == nil {
			s.hub.PublishList(path, children)
		}
		s.publishParentLocked(ctx, path)
	}
	return nil
}

func (s *Store) Push(ctx context.Context, path string, value []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var index int
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM kv WHERE path LIKE ? || '/%'`, path)
		if err := row.Scan(&index); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO kv (path, value) VALUES (?, ?)`,
			fmt.Sprintf("%s/%010d", path, index), value)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to push to %s: %w", path, err)
	}

	s.hub.PublishPush(path, store.ListPush{Index: index, Value: value})
	if children, err := s.children(ctx, path); err == nil {
		s.hub.PublishList(path, children)
	}
	return index, nil
}

func (s *Store) ListKeys(ctx context.Context, path string) ([]string, error) {
	children, err := s.children(ctx, path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(children))
	for i, kv := range children {
		keys[i] = kv.Key
	}
	return keys, nil
}

func (s *Store) Watch(ctx context.Context, path string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, path)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return s.hub.SubscribeValue(ctx, path, current), nil
}

func (s *Store) WatchList(ctx context.Context, path string) (<-chan []store.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.children(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.hub.SubscribeList(ctx, path, current), nil
}

func (s *Store) WatchListPushes(ctx context.Context, path string) (<-chan store.ListPush, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.children(ctx, path)
	if err != nil {
		return nil, err
	}
	backlog := make([]store.ListPush, len(children))
	for i, kv := range children {
		backlog[i] = store.ListPush{Index: i, Value: kv.Value}
	}
	return s.hub.SubscribePushes(ctx, path, backlog), nil
}

// children returns the direct children of path sorted by key.
func (s *Store) children(ctx context.Context, path string) ([]store.KeyValue, error) {
	prefix := path + "/"
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM kv WHERE path LIKE ? || '/%'`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to select children of %s: %w", path, err)
	}
	defer rows.Close()

	var out []store.KeyValue
	for rows.Next() {
		var p string
		var v []byte
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		rest := p[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		out = append(out, store.KeyValue{Key: rest, Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// publishParentLocked refreshes list watchers of path's parent.
func (s *Store) publishParentLocked(ctx context.Context, path string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return
	}
	parent := path[:i]
	if children, err := s.children(ctx, parent); err == nil {
		s.hub.PublishList(parent, children)
	}
}
