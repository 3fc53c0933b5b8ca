package coord

import (
	"path/filepath"
	"testing"
	"time"

	"duelctl/internal/model"
)

func TestRegistry_UpsertListSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Upsert(model.Node{Name: "intel-demo", Addr: "b:5000"})
	reg.Upsert(model.Node{Name: "snapdragon-demo", Addr: "a:5000"})
	reg.Upsert(model.Node{Name: "intel-demo", Addr: "c:5000"}) // replace

	nodes := reg.List()
	if len(nodes) != 2 {
		t.Fatalf("nodes=%+v", nodes)
	}
	if nodes[0].Name != "intel-demo" || nodes[1].Name != "snapdragon-demo" {
		t.Fatalf("order=%v,%v", nodes[0].Name, nodes[1].Name)
	}
	if nodes[0].Addr != "c:5000" {
		t.Fatalf("addr=%q", nodes[0].Addr)
	}
}

func TestRegistry_EvictSilent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	reg := NewRegistry()
	reg.Upsert(model.Node{Name: "fresh", LastSeenAt: now})
	reg.Upsert(model.Node{Name: "stale", LastSeenAt: now.Add(-2 * time.Minute)})

	evicted := reg.Evict(30*time.Second, now)
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Fatalf("evicted=%v", evicted)
	}
	if _, ok := reg.Get("stale"); ok {
		t.Fatal("stale node still present")
	}
	if _, ok := reg.Get("fresh"); !ok {
		t.Fatal("fresh node evicted")
	}
}

func TestRegistry_Touch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	old := time.Now().UTC().Add(-time.Hour)
	reg.Upsert(model.Node{Name: "a", LastSeenAt: old, Reachable: false})

	now := time.Now().UTC()
	reg.Touch("a", now)
	node, _ := reg.Get("a")
	if !node.LastSeenAt.Equal(now) || !node.Reachable {
		t.Fatalf("node=%+v", node)
	}

	reg.Touch("missing", now) // no-op, must not panic
	reg.MarkUnreachable("a")
	node, _ = reg.Get("a")
	if node.Reachable {
		t.Fatal("still reachable")
	}
}

func TestRegistry_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.yaml")
	reg := NewRegistry()
	reg.Upsert(model.Node{
		Name:       "snapdragon-demo",
		Addr:       "192.168.1.10:5000",
		Platform:   model.PlatformSnapdragon,
		LastSeenAt: time.Now().UTC().Truncate(time.Second),
		Reachable:  true,
		Confidence: model.ConfidenceHigh,
	})

	if err := SaveRegistry(path, reg); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}

	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	nodes := loaded.List()
	if len(nodes) != 1 {
		t.Fatalf("nodes=%+v", nodes)
	}
	if nodes[0].Addr != "192.168.1.10:5000" || nodes[0].Platform != model.PlatformSnapdragon {
		t.Fatalf("node=%+v", nodes[0])
	}
}

func TestLoadRegistry_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatal("expected empty registry")
	}
}
