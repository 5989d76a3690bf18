package odm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mbroadst/thinkagain/engine"
)

// DB owns the models defined against one engine. Models are registered by
// name; names are unique within a DB.
type DB struct {
	engine engine.Engine
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	models map[string]*Model
	links  map[string]*Model
}

// New creates a DB over e.
func New(e engine.Engine, config Config) *DB {
	config.validate()
	return &DB{
		engine: e,
		config: config,
		logger: config.Logger,
		models: make(map[string]*Model),
		links:  make(map[string]*Model),
	}
}

// Engine returns the underlying storage engine.
func (db *DB) Engine() engine.Engine {
	return db.engine
}

// CreateModel registers a model and schedules creation of its table.
func (db *DB) CreateModel(name string, opts ...ModelOption) (*Model, error) {
	if name == "" {
		return nil, invariant("model name is empty")
	}

	db.mu.Lock()
	if _, ok := db.models[name]; ok {
		db.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrModelExists, name)
	}
	m := newModel(db, name, db.config.PrimaryKey, false)
	for _, opt := range opts {
		opt(m)
	}
	db.models[name] = m
	db.mu.Unlock()

	m.createTable()
	return m, nil
}

// Model returns the model registered under name.
func (db *DB) Model(name string) (*Model, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.models[name]
	return m, ok
}

// Models returns every registered model ordered by name. Link tables are not
// included.
func (db *DB) Models() []*Model {
	db.mu.Lock()
	out := make([]*Model, 0, len(db.models))
	for _, m := range db.models {
		out = append(out, m)
	}
	db.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Ready waits until every registered model is ready.
func (db *DB) Ready(ctx context.Context) error {
	for _, m := range db.Models() {
		if err := m.Ready(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets every model, link table and sticky error. Stored data is not
// touched. It exists for tests.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.models = make(map[string]*Model)
	db.links = make(map[string]*Model)
}

// linkModel returns the model backing a link table, provisioning it on first
// use.
func (db *DB) linkModel(name string) *Model {
	db.mu.Lock()
	m, ok := db.links[name]
	if ok {
		db.mu.Unlock()
		return m
	}
	m = newModel(db, name, "id", true)
	db.links[name] = m
	db.mu.Unlock()

	m.createTable()
	return m
}
