package odm_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mbroadst/thinkagain/engine/memory"
	"github.com/mbroadst/thinkagain/odm"
)

func newDB(t *testing.T) (*odm.DB, *memory.Engine) {
	t.Helper()
	e := memory.New()
	cfg := odm.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return odm.New(e, cfg), e
}

func mustModel(t *testing.T, db *odm.DB, name string, opts ...odm.ModelOption) *odm.Model {
	t.Helper()
	m, err := db.CreateModel(name, opts...)
	if err != nil {
		t.Fatalf("CreateModel(%q) error = %v", name, err)
	}
	return m
}

func mustNew(t *testing.T, m *odm.Model, data map[string]any) *odm.Document {
	t.Helper()
	d, err := m.New(data)
	if err != nil {
		t.Fatalf("%s.New() error = %v", m.Name(), err)
	}
	return d
}

func mustGet(t *testing.T, d *odm.Document, field string) any {
	t.Helper()
	v, ok := d.Get(field)
	if !ok {
		t.Fatalf("field %q not set on %s document", field, d.Model().Name())
	}
	return v
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

// ops returns the op sequence of calls, skipping reads.
func ops(calls []memory.Call) []string {
	var out []string
	for _, c := range calls {
		if c.Op == memory.OpGet || c.Op == memory.OpGetAll {
			continue
		}
		out = append(out, string(c.Op)+" "+c.Table)
	}
	return out
}
