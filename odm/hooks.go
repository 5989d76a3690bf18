package odm

import (
	"context"
	"fmt"
)

// Hook names a lifecycle stage.
type Hook string

const (
	HookInit     Hook = "init"
	HookValidate Hook = "validate"
	HookSave     Hook = "save"
	HookDelete   Hook = "delete"
	HookRetrieve Hook = "retrieve"
)

// HookFunc runs at a lifecycle stage. Hooks run sequentially in registration
// order; a non-nil error aborts the operation.
type HookFunc func(ctx context.Context, doc *Document) error

type hookKey struct {
	post bool
	hook Hook
}

// Pre registers fn to run before hook. Retrieve has no pre stage.
func (m *Model) Pre(hook Hook, fn HookFunc) error {
	switch hook {
	case HookInit, HookValidate, HookSave, HookDelete:
	default:
		return fmt.Errorf("%w: pre %s", ErrUnknownHook, hook)
	}
	m.addHook(hookKey{hook: hook}, fn)
	return nil
}

// Post registers fn to run after hook.
func (m *Model) Post(hook Hook, fn HookFunc) error {
	switch hook {
	case HookInit, HookValidate, HookSave, HookDelete, HookRetrieve:
	default:
		return fmt.Errorf("%w: post %s", ErrUnknownHook, hook)
	}
	m.addHook(hookKey{post: true, hook: hook}, fn)
	return nil
}

func (m *Model) addHook(k hookKey, fn HookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[k] = append(m.hooks[k], fn)
}

func (m *Model) runHooks(ctx context.Context, post bool, hook Hook, doc *Document) error {
	m.mu.RLock()
	fns := append([]HookFunc(nil), m.hooks[hookKey{post: post, hook: hook}]...)
	m.mu.RUnlock()

	stage := "pre"
	if post {
		stage = "post"
	}
	for _, fn := range fns {
		if err := fn(ctx, doc); err != nil {
			return fmt.Errorf("%s-%s hook on %s: %w", stage, hook, m.name, err)
		}
	}
	return nil
}
