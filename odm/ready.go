package odm

import (
	"context"
	"errors"

	"github.com/mbroadst/thinkagain/engine"
)

// setupTask is one asynchronous provisioning step (table, index, link table).
// err is written before done is closed.
type setupTask struct {
	name string
	done chan struct{}
	err  error
}

func newTask(name string) *setupTask {
	return &setupTask{name: name, done: make(chan struct{})}
}

// Ready blocks until the model's table exists and every provisioning task
// registered on it has settled. Tasks may register further tasks while
// running, so the wait repeats until no new task appears. A failed task
// leaves a sticky *SetupError that Ready returns from then on.
func (m *Model) Ready(ctx context.Context) error {
	for {
		m.mu.RLock()
		if m.err != nil {
			err := m.err
			m.mu.RUnlock()
			return err
		}
		tasks := append([]*setupTask(nil), m.tasks...)
		m.mu.RUnlock()

		for _, t := range tasks {
			select {
			case <-t.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if t.err != nil {
				m.fail(t.name, t.err)
				return m.setupErr()
			}
		}

		if m.settle(tasks) {
			return nil
		}
	}
}

// settle forgets the awaited tasks and reports whether none remain.
func (m *Model) settle(awaited []*setupTask) bool {
	done := make(map[*setupTask]bool, len(awaited))
	for _, t := range awaited {
		done[t] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var rest []*setupTask
	for _, t := range m.tasks {
		if !done[t] {
			rest = append(rest, t)
		}
	}
	m.tasks = rest
	return len(rest) == 0
}

func (m *Model) setupErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *Model) track(t *setupTask) {
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
}

func (m *Model) fail(task string, err error) {
	var se *SetupError
	if errors.As(err, &se) {
		err = se.Err
	}

	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return
	}
	m.err = &SetupError{Model: m.name, Task: task, Err: err}
	m.mu.Unlock()

	m.db.logger.Error("model setup failed",
		"model", m.name,
		"task", task,
		"error", err,
	)
}

// schedule registers a task on m and on every extra owner, and runs fn once
// every task in after has succeeded.
func (m *Model) schedule(name string, after []*setupTask, fn func(ctx context.Context) error, owners ...*Model) *setupTask {
	t := newTask(name)
	owners = append([]*Model{m}, owners...)
	for _, o := range owners {
		o.track(t)
	}
	go run(t, after, fn, owners)
	return t
}

func run(t *setupTask, after []*setupTask, fn func(ctx context.Context) error, owners []*Model) {
	for _, a := range after {
		<-a.done
		if a.err != nil {
			t.err = a.err
			break
		}
	}
	if t.err == nil {
		err := fn(context.Background())
		if errors.Is(err, engine.ErrTableExists) || errors.Is(err, engine.ErrIndexExists) {
			err = nil
		}
		t.err = err
	}
	if t.err != nil {
		for _, o := range owners {
			o.fail(t.name, t.err)
		}
	}
	close(t.done)
}

func (m *Model) createTable() {
	t := newTask("table " + m.name)
	m.mu.Lock()
	m.tableTask = t
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()

	go run(t, nil, func(ctx context.Context) error {
		return m.db.engine.CreateTable(ctx, m.name, engine.TableOptions{PrimaryKey: m.pk})
	}, []*Model{m})
}

// ensureIndex returns the task creating an index on field, scheduling it on
// first request.
func (m *Model) ensureIndex(field string, multi bool) *setupTask {
	m.mu.Lock()
	if t, ok := m.indexes[field]; ok {
		m.mu.Unlock()
		return t
	}
	t := newTask("index " + m.name + "." + field)
	m.indexes[field] = t
	m.tasks = append(m.tasks, t)
	table := m.tableTask
	m.mu.Unlock()

	go run(t, []*setupTask{table}, func(ctx context.Context) error {
		return m.db.engine.CreateIndex(ctx, m.name, engine.IndexOptions{Name: field, Field: field, Multi: multi})
	}, []*Model{m})
	return t
}
