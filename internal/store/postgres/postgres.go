// Package postgres implements store.DocumentStore on a single documents
// table: one jsonb row per written path. Multi-path updates run in one
// transaction, so the fan-out writes the core depends on are atomic here.
// Change notification rides LISTEN/NOTIFY with the written path as payload.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vedran77/ripple/internal/store"
)

const notifyChannel = "ripple_changes"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path       text PRIMARY KEY,
	data       jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);`

type watcher struct {
	path string
	fn   store.ChangeFunc
}

type Store struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	watchers map[int]*watcher
	nextID   int

	listenCancel context.CancelFunc
	listenOnce   sync.Once
}

// Connect opens the pool, pings it and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: unable to ping database: %v", store.ErrUnavailable, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{pool: pool, watchers: make(map[int]*watcher)}, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	cancel := s.listenCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.pool.Close()
}

// assemble merges the rows overlapping path into the value observable at
// path: ancestor rows contribute the sub-node at the remaining segments,
// descendant rows are placed at their relative position, deeper rows
// override shallower ones.
func assemble(path string, rows map[string]any) (any, bool) {
	var result any
	found := false

	merge := func(v any) {
		if m, isMap := v.(map[string]any); isMap {
			base, wasMap := result.(map[string]any)
			if !wasMap {
				base = make(map[string]any)
			}
			for k, child := range m {
				base[k] = child
			}
			result = base
		} else {
			result = v
		}
		found = true
	}

	// Shallowest rows first so deeper writes override.
	ordered := make([]string, 0, len(rows))
	for p := range rows {
		ordered = append(ordered, p)
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if len(store.Split(ordered[j])) < len(store.Split(ordered[i])) {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, rowPath := range ordered {
		data := rows[rowPath]
		switch {
		case rowPath == path:
			merge(data)
		case strings.HasPrefix(path, rowPath+"/"):
			if node, ok := store.Navigate(data, path[len(rowPath)+1:]); ok {
				merge(node)
			}
		case strings.HasPrefix(rowPath, path+"/"):
			base, wasMap := result.(map[string]any)
			if !wasMap {
				base = make(map[string]any)
				result = base
			}
			store.Place(base, rowPath[len(path)+1:], data)
			found = true
		}
	}
	return result, found
}

// overlappingRows loads every row whose path overlaps p, inside q (a pool,
// tx or conn). With lock set the rows are taken FOR UPDATE, pinning them
// for the enclosing transaction.
func overlappingRows(ctx context.Context, q querier, p string, lock bool) (map[string]any, error) {
	sql := `SELECT path, data FROM documents
		 WHERE path = $1 OR path LIKE $1 || '/%' OR $1 LIKE path || '/%'`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, p)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var rowPath string
		var raw []byte
		if err := rows.Scan(&rowPath, &raw); err != nil {
			return nil, err
		}
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decoding row %s: %w", rowPath, err)
		}
		out[rowPath] = data
	}
	return out, rows.Err()
}

// querier covers pgxpool.Pool and pgx.Tx alike.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) Get(ctx context.Context, path string, dst any) error {
	rows, err := overlappingRows(ctx, s.pool, path, false)
	if err != nil {
		return err
	}
	value, found := assemble(path, rows)
	if !found {
		return store.ErrNotFound
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// writeTx applies one logical write at path inside tx. Descendant rows are
// folded away; if a strict ancestor row holds the enclosing document, the
// value is placed inside that row instead of a new one.
func writeTx(ctx context.Context, tx pgx.Tx, path string, value any) error {
	var anchorPath string
	var anchorRaw []byte
	err := tx.QueryRow(ctx,
		`SELECT path, data FROM documents
		 WHERE $1 LIKE path || '/%'
		 ORDER BY length(path) DESC LIMIT 1 FOR UPDATE`, path).Scan(&anchorPath, &anchorRaw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	hasAnchor := err == nil

	if _, err := tx.Exec(ctx,
		`DELETE FROM documents WHERE path = $1 OR path LIKE $1 || '/%'`, path); err != nil {
		return err
	}

	if hasAnchor {
		var anchor any
		if err := json.Unmarshal(anchorRaw, &anchor); err != nil {
			return fmt.Errorf("decoding row %s: %w", anchorPath, err)
		}
		root, isMap := anchor.(map[string]any)
		if !isMap {
			root = make(map[string]any)
		}
		store.Place(root, path[len(anchorPath)+1:], value)
		raw, err := json.Marshal(root)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET data = $2, updated_at = now() WHERE path = $1`,
			anchorPath, raw)
		return err
	}

	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO documents (path, data) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		path, raw)
	return err
}

func notifyTx(ctx context.Context, tx pgx.Tx, path string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path)
	return err
}

// materializeTx resolves write-time placeholders against the value
// currently observable at path, with the overlapping rows locked for the
// transaction so a concurrent increment cannot be lost.
func materializeTx(ctx context.Context, tx pgx.Tx, path string, tree any) (any, error) {
	if tree == nil {
		return nil, nil
	}
	rows, err := overlappingRows(ctx, tx, path, true)
	if err != nil {
		return nil, err
	}
	existing, _ := assemble(path, rows)
	return store.Materialize(tree, time.Now().UnixMilli(), existing), nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	tree, err := store.Encode(value)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		resolved, err := materializeTx(ctx, tx, path, tree)
		if err != nil {
			return err
		}
		if err := writeTx(ctx, tx, path, resolved); err != nil {
			return err
		}
		return notifyTx(ctx, tx, path)
	})
}

func (s *Store) Create(ctx context.Context, path string, value any) error {
	tree, err := store.Encode(value)
	if err != nil {
		return err
	}
	// No prior value by definition, so placeholders resolve against nothing.
	tree = store.Materialize(tree, time.Now().UnixMilli(), nil)
	return s.inTx(ctx, func(tx pgx.Tx) error {
		// Serialize racing creates of the same path.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, path); err != nil {
			return err
		}
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM documents
				WHERE path = $1 OR path LIKE $1 || '/%'
			)`, path).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			// An ancestor row may already embed a value at this path.
			rows, rerr := overlappingRows(ctx, tx, path, false)
			if rerr != nil {
				return rerr
			}
			_, exists = assemble(path, rows)
		}
		if exists {
			return store.ErrExists
		}
		if err := writeTx(ctx, tx, path, tree); err != nil {
			return err
		}
		return notifyTx(ctx, tx, path)
	})
}

func (s *Store) Update(ctx context.Context, writes map[string]any) error {
	encoded := make(map[string]any, len(writes))
	for path, value := range writes {
		tree, err := store.Encode(value)
		if err != nil {
			return err
		}
		encoded[path] = tree
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for path, tree := range encoded {
			resolved, err := materializeTx(ctx, tx, path, tree)
			if err != nil {
				return err
			}
			if err := writeTx(ctx, tx, path, resolved); err != nil {
				return err
			}
			if err := notifyTx(ctx, tx, path); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	id := uuid.New().String()
	if err := s.Create(ctx, path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Subscribe registers fn, delivers the current value and starts the shared
// notification listener if it is not running yet.
func (s *Store) Subscribe(ctx context.Context, path string, fn store.ChangeFunc) (store.CancelFunc, error) {
	s.listenOnce.Do(func() {
		lctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.listenCancel = cancel
		s.mu.Unlock()
		go s.listen(lctx)
	})

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = &watcher{path: path, fn: fn}
	s.mu.Unlock()

	s.deliver(ctx, path, fn)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
	return cancel, nil
}

// deliver fetches the current value at path and hands it to fn.
func (s *Store) deliver(ctx context.Context, path string, fn store.ChangeFunc) {
	var value json.RawMessage
	err := s.Get(ctx, path, &value)
	switch {
	case errors.Is(err, store.ErrNotFound):
		fn(path, nil)
	case err != nil:
		log.Warn("store: fetch for subscriber failed", "path", path, "err", err)
	default:
		fn(path, value)
	}
}

// listen holds a dedicated connection on LISTEN and fans notifications out
// to overlapping watchers. Connection loss retries until the store closes.
func (s *Store) listen(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.listenOnConn(ctx); err != nil && ctx.Err() == nil {
			log.Warn("store: notification listener failed, retrying", "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func (s *Store) listenOnConn(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.notify(ctx, n.Payload)
	}
}

// notify re-reads and delivers to every watcher overlapping the changed
// path.
func (s *Store) notify(ctx context.Context, changed string) {
	s.mu.Lock()
	var hit []*watcher
	for _, w := range s.watchers {
		if store.Overlaps(w.path, changed) {
			hit = append(hit, w)
		}
	}
	s.mu.Unlock()
	for _, w := range hit {
		s.deliver(ctx, w.path, w.fn)
	}
}
