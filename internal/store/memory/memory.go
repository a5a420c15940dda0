// Package memory implements store.DocumentStore on an in-process JSON tree.
// It backs tests and local single-process runs. All writes are applied under
// one lock; change notifications are delivered synchronously on the writer's
// goroutine, so per-path delivery order matches commit order.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vedran77/ripple/internal/store"
)

type watcher struct {
	path string
	fn   store.ChangeFunc
}

type Store struct {
	mu       sync.Mutex
	root     map[string]any
	watchers map[int]*watcher
	nextID   int
	lastTS   int64
}

func New() *Store {
	return &Store{
		root:     make(map[string]any),
		watchers: make(map[int]*watcher),
	}
}

// now returns a strictly increasing commit timestamp in milliseconds.
func (s *Store) now() int64 {
	ts := time.Now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// snapshot marshals the current value at path, nil when absent.
func (s *Store) snapshot(path string) []byte {
	n, ok := store.Navigate(s.root, path)
	if !ok {
		return nil
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	return data
}

// affected collects the watchers overlapping any written path, with the
// value at their own path, deduplicated.
func (s *Store) affected(paths []string) []func() {
	seen := make(map[int]bool)
	var pending []func()
	for id, w := range s.watchers {
		if seen[id] {
			continue
		}
		for _, p := range paths {
			if store.Overlaps(w.path, p) {
				seen[id] = true
				fn, wp, data := w.fn, w.path, s.snapshot(w.path)
				pending = append(pending, func() { fn(wp, data) })
				break
			}
		}
	}
	return pending
}

func (s *Store) Get(_ context.Context, path string, dst any) error {
	s.mu.Lock()
	data := s.snapshot(path)
	s.mu.Unlock()
	if data == nil {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (s *Store) Set(_ context.Context, path string, value any) error {
	tree, err := store.Encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	existing, _ := store.Navigate(s.root, path)
	store.Place(s.root, path, store.Materialize(tree, s.now(), existing))
	pending := s.affected([]string{path})
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return nil
}

func (s *Store) Create(_ context.Context, path string, value any) error {
	tree, err := store.Encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, exists := store.Navigate(s.root, path); exists {
		s.mu.Unlock()
		return store.ErrExists
	}
	store.Place(s.root, path, store.Materialize(tree, s.now(), nil))
	pending := s.affected([]string{path})
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return nil
}

func (s *Store) Update(_ context.Context, writes map[string]any) error {
	encoded := make(map[string]any, len(writes))
	for path, value := range writes {
		tree, err := store.Encode(value)
		if err != nil {
			return err
		}
		encoded[path] = tree
	}
	s.mu.Lock()
	now := s.now()
	paths := make([]string, 0, len(encoded))
	for path, tree := range encoded {
		if tree == nil {
			store.Place(s.root, path, nil)
		} else {
			existing, _ := store.Navigate(s.root, path)
			store.Place(s.root, path, store.Materialize(tree, now, existing))
		}
		paths = append(paths, path)
	}
	pending := s.affected(paths)
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return nil
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	id := uuid.New().String()
	if err := s.Create(ctx, path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe registers fn and delivers the current value synchronously before
// returning, then after every overlapping write. The returned cancel is
// idempotent.
func (s *Store) Subscribe(_ context.Context, path string, fn store.ChangeFunc) (store.CancelFunc, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = &watcher{path: path, fn: fn}
	data := s.snapshot(path)
	s.mu.Unlock()

	fn(path, data)

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
