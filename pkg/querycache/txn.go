package querycache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Op is the kind of a staged datastore change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one staged mutation: the operation and the model it touches.
type Change struct {
	Op    Op
	Model string
}

// Observer is notified at a transaction lifecycle point.
type Observer func(ctx context.Context, txn *Txn)

// Txn models a unit-of-work lifecycle the cache layer can observe, without
// any knowledge of the persistence framework or schema behind it. The host
// application stages changes as it writes and finalizes with exactly one
// Commit or Rollback.
type Txn struct {
	mu          sync.Mutex
	staged      []Change
	collected   []string
	beforeFns   []Observer
	commitFns   []Observer
	rollbackFns []Observer
	committed   bool
	rolledBack  bool
}

// NewTxn creates an open transaction.
func NewTxn() *Txn {
	return &Txn{}
}

// Stage records a pending change. Safe to call from the moment the
// transaction is created until it is finalized.
func (t *Txn) Stage(op Op, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = append(t.staged, Change{Op: op, Model: model})
}

// Models returns the distinct model names staged so far, sorted.
func (t *Txn) Models() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modelsLocked()
}

func (t *Txn) modelsLocked() []string {
	seen := make(map[string]struct{}, len(t.staged))
	for _, c := range t.staged {
		seen[c.Model] = struct{}{}
	}
	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// OnBeforeCommit registers an observer that runs before the commit is
// finalized.
func (t *Txn) OnBeforeCommit(fn Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beforeFns = append(t.beforeFns, fn)
}

// OnCommitted registers an observer that runs after a successful commit.
func (t *Txn) OnCommitted(fn Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitFns = append(t.commitFns, fn)
}

// OnRolledBack registers an observer that runs after a rollback.
func (t *Txn) OnRolledBack(fn Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbackFns = append(t.rollbackFns, fn)
}

// setCollected attaches the model set gathered by a before-commit observer
// to the in-flight transaction.
func (t *Txn) setCollected(models []string) {
	t.mu.Lock()
	t.collected = models
	t.mu.Unlock()
}

// Collected returns the model set attached before commit.
func (t *Txn) Collected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collected
}

// Commit finalizes the transaction: before-commit observers run first,
// then committed observers. A transaction can be finalized only once;
// the committed flag is claimed before any observer runs so concurrent
// finalization attempts cannot fire observers twice.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return fmt.Errorf("transaction already committed")
	}
	if t.rolledBack {
		t.mu.Unlock()
		return fmt.Errorf("transaction already rolled back")
	}
	t.committed = true
	before := append([]Observer(nil), t.beforeFns...)
	t.mu.Unlock()

	for _, fn := range before {
		fn(ctx, t)
	}

	t.mu.Lock()
	after := append([]Observer(nil), t.commitFns...)
	t.mu.Unlock()

	for _, fn := range after {
		fn(ctx, t)
	}
	return nil
}

// Rollback discards the transaction. Staged changes are never reported to
// committed observers.
func (t *Txn) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return fmt.Errorf("transaction already committed")
	}
	if t.rolledBack {
		t.mu.Unlock()
		return fmt.Errorf("transaction already rolled back")
	}
	t.rolledBack = true
	fns := append([]Observer(nil), t.rollbackFns...)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, t)
	}
	return nil
}
