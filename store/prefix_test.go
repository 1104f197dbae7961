package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/nodeflight/store"
	"github.com/unkn0wn-root/nodeflight/store/bigcache"
)

func newBacking(t *testing.T) *bigcache.Store {
	t.Helper()
	s, err := bigcache.New(bigcache.Config{})
	if err != nil {
		t.Fatalf("bigcache: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestWithPrefixNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	inner := newBacking(t)
	s := store.WithPrefix(inner, "lms:2:")

	if err := s.Set(ctx, "course:1", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := inner.Get(ctx, "lms:2:course:1"); !ok {
		t.Fatalf("value not stored under the prefixed key")
	}
	if got, ok, _ := s.Get(ctx, "course:1"); !ok || string(got) != "v" {
		t.Fatalf("Get through prefix: %q %v", got, ok)
	}
	if ok, _ := s.SetNX(ctx, "course:1", []byte("w"), time.Minute); ok {
		t.Fatalf("SetNX must see the prefixed key")
	}
	if ok, err := s.(store.Releaser).DelIfEqual(ctx, "course:1", []byte("v")); err != nil || !ok {
		t.Fatalf("DelIfEqual through prefix: %v %v", ok, err)
	}
	if ok, _ := s.Exists(ctx, "course:1"); ok {
		t.Fatalf("key still exists")
	}
}

func TestWithPrefixReportsMissingCapability(t *testing.T) {
	s := store.WithPrefix(newBacking(t), "app")
	_, err := s.(store.Counter).IncrBy(context.Background(), "n", 1, 0)
	if !errors.Is(err, store.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestWithEmptyPrefixReturnsInner(t *testing.T) {
	inner := newBacking(t)
	if s := store.WithPrefix(inner, ""); s != store.Store(inner) {
		t.Fatalf("empty prefix must not wrap")
	}
}

func TestReadOnlyHidesWrites(t *testing.T) {
	ctx := context.Background()
	inner := newBacking(t)
	_ = inner.Set(ctx, "k", []byte("v"), 0)

	ro := store.ReadOnly(inner)
	if _, ok := ro.(store.Store); ok {
		t.Fatalf("read-only view must not satisfy store.Store")
	}
	if got, ok, err := ro.Get(ctx, "k"); err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get: %q %v %v", got, ok, err)
	}
}

func TestExpandPrefix(t *testing.T) {
	if got := store.ExpandPrefix("cache:{app}:{tenant}", "lms", "2"); got != "cache:lms:2" {
		t.Fatalf("ExpandPrefix = %q", got)
	}
	if got := store.ExpandPrefix("static", "lms", "2"); got != "static" {
		t.Fatalf("ExpandPrefix without placeholders = %q", got)
	}
}

// primaryBacking reports whether it was asked for its primary view.
type primaryBacking struct {
	store.Store
	view store.Store
}

func (p *primaryBacking) Primary() store.Store { return p.view }

func TestWithPrefixForwardsPrimary(t *testing.T) {
	ctx := context.Background()
	view := newBacking(t)
	s := store.WithPrefix(&primaryBacking{Store: newBacking(t), view: view}, "app")

	p := s.(store.Primary).Primary()
	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := view.Get(ctx, "app:k"); !ok {
		t.Fatalf("primary view must keep the prefix and use the inner view")
	}

	plain := store.WithPrefix(newBacking(t), "app")
	if plain.(store.Primary).Primary() != plain {
		t.Fatalf("without an inner primary view the prefixed store is its own view")
	}
}
