// Package coord is the control point: it discovers nodes, dispatches the
// same prompt to each, follows their event streams, and declares a result.
package coord

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"duelctl/internal/model"
)

// Registry tracks discovered nodes. It is safe for concurrent use; the
// watcher goroutines update last-seen while a comparison reads the set.
type Registry struct {
	mu    sync.Mutex
	nodes map[string]model.Node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]model.Node)}
}

// Upsert records a node keyed by name, replacing any earlier entry.
func (r *Registry) Upsert(node model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.Name] = node
}

// Touch refreshes a node's last-seen time and marks it reachable.
func (r *Registry) Touch(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[name]
	if !ok {
		return
	}
	node.LastSeenAt = at
	node.Reachable = true
	r.nodes[name] = node
}

// MarkUnreachable flags a node without removing it.
func (r *Registry) MarkUnreachable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[name]
	if !ok {
		return
	}
	node.Reachable = false
	r.nodes[name] = node
}

// Get returns one node by name.
func (r *Registry) Get(name string) (model.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[name]
	return node, ok
}

// List returns all nodes, name-sorted for stable output.
func (r *Registry) List() []model.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evict drops nodes not seen within silence. Returns the evicted names.
func (r *Registry) Evict(silence time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for name, node := range r.nodes {
		if now.Sub(node.LastSeenAt) > silence {
			delete(r.nodes, name)
			evicted = append(evicted, name)
		}
	}
	return evicted
}

// registryFile is the on-disk shape. Persisting between invocations lets
// `duelctl run` skip a fresh sweep when the node set is already known.
type registryFile struct {
	UpdatedAt time.Time    `yaml:"updated_at"`
	Nodes     []model.Node `yaml:"nodes"`
}

// LoadRegistry reads a persisted registry. A missing file is an empty
// registry, not an error.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, err
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	reg := NewRegistry()
	for _, node := range file.Nodes {
		reg.Upsert(node)
	}
	return reg, nil
}

// SaveRegistry writes the registry to disk.
func SaveRegistry(path string, reg *Registry) error {
	if reg == nil {
		return nil
	}
	file := registryFile{UpdatedAt: time.Now().UTC(), Nodes: reg.List()}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
