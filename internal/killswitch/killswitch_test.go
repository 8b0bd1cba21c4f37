package killswitch

import (
	"context"
	"errors"
	"testing"
)

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (bool, error) {
	return false, errors.New("store down")
}
func (failingStore) Set(ctx context.Context, key string, value bool) error {
	return errors.New("store down")
}

func TestGuardScopes(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemStore())

	if g.ShouldHalt(ctx, "alice") {
		t.Fatal("no flags set, should not halt")
	}

	if err := g.SetUser(ctx, "alice", true); err != nil {
		t.Fatalf("set user: %v", err)
	}
	if !g.ShouldHalt(ctx, "alice") {
		t.Fatal("alice's flag tripped, should halt")
	}
	if g.ShouldHalt(ctx, "bob") {
		t.Fatal("bob is unaffected by alice's flag")
	}

	if err := g.SetGlobal(ctx, true); err != nil {
		t.Fatalf("set global: %v", err)
	}
	if !g.ShouldHalt(ctx, "bob") || !g.ShouldHalt(ctx, "alice") {
		t.Fatal("global flag halts everyone")
	}

	_ = g.SetGlobal(ctx, false)
	_ = g.SetUser(ctx, "alice", false)
	if g.ShouldHalt(ctx, "alice") {
		t.Fatal("cleared flags should not halt")
	}
}

func TestGlobalReadsOnlyGlobalFlag(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	g := NewGuard(store)

	// A stray flag under the empty-owner key must not leak into the
	// global read.
	if err := store.Set(ctx, userPrefix, true); err != nil {
		t.Fatal(err)
	}
	if g.Global(ctx) {
		t.Fatal("global flag is clear, Global must report false")
	}

	if err := g.SetGlobal(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !g.Global(ctx) {
		t.Fatal("global flag is set, Global must report true")
	}
}

func TestGuardTreatsReadErrorsAsNotTripped(t *testing.T) {
	g := NewGuard(failingStore{})
	if g.ShouldHalt(context.Background(), "alice") {
		t.Fatal("a store error must not flatten positions")
	}
}
