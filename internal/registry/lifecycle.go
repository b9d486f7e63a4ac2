package registry

import (
	"context"
	"sync"
)

// LifecycleHook observes tables entering and leaving a TableRegistry.
// Hooks run synchronously, in registration order. Declare hooks run while
// the registry is locked and must not call back into it; release hooks run
// unlocked, with the released table hidden from lookups.
type LifecycleHook interface {
	// OnDeclare runs before a table is recorded as declared. An error aborts
	// the declaration.
	OnDeclare(ctx context.Context, table TableMetadata) error

	// OnRelease runs before a table is removed from the registry. An error
	// aborts the removal.
	OnRelease(ctx context.Context, table TableMetadata) error
}

// LifecycleHookFuncs adapts plain functions to LifecycleHook. Nil
// functions are skipped.
type LifecycleHookFuncs struct {
	Declare func(ctx context.Context, table TableMetadata) error
	Release func(ctx context.Context, table TableMetadata) error
}

// OnDeclare implements LifecycleHook.
func (f LifecycleHookFuncs) OnDeclare(ctx context.Context, table TableMetadata) error {
	if f.Declare == nil {
		return nil
	}
	return f.Declare(ctx, table)
}

// OnRelease implements LifecycleHook.
func (f LifecycleHookFuncs) OnRelease(ctx context.Context, table TableMetadata) error {
	if f.Release == nil {
		return nil
	}
	return f.Release(ctx, table)
}

// LifecycleManager holds the hooks of a TableRegistry.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a lifecycle manager without hooks.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook appends hook.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// runDeclare runs every OnDeclare hook, stopping at the first error.
func (lm *LifecycleManager) runDeclare(ctx context.Context, table TableMetadata) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnDeclare(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// runRelease runs every OnRelease hook, stopping at the first error.
func (lm *LifecycleManager) runRelease(ctx context.Context, table TableMetadata) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnRelease(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return append([]LifecycleHook(nil), lm.hooks...)
}
