package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Delete for an id the registry does not hold.
var ErrNotFound = errors.New("construct not found")

var constructIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Registry is the construct identity store: one YAML file per construct in
// dir, seeded with the shipped defaults when dir has none.
type Registry struct {
	dir string

	mu         sync.RWMutex
	constructs map[string]*Construct
	files      map[string]string // id -> file it was loaded from or saved to
}

func NewRegistry(dir string) (*Registry, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("constructs dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create constructs dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	r := &Registry{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Get returns a copy of the construct, or nil.
func (r *Registry) Get(id string) *Construct {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneConstruct(r.constructs[normalizeID(id)])
}

// List returns copies sorted by id.
func (r *Registry) List() []*Construct {
	r.mu.RLock()
	ids := make([]string, 0, len(r.constructs))
	for id := range r.constructs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Construct, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneConstruct(r.constructs[id]))
	}
	r.mu.RUnlock()
	return out
}

// Reload rereads the directory. The previous state is kept when any file
// fails to load.
func (r *Registry) Reload() error {
	constructs, files, err := scanDir(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.constructs, r.files = constructs, files
	r.mu.Unlock()
	return nil
}

// Save validates c and writes it to <id>.yaml, replacing any earlier file
// for the same id.
func (r *Registry) Save(c *Construct) error {
	if c == nil {
		return errors.New("construct is required")
	}
	clean := cloneConstruct(c)
	if err := validate(clean); err != nil {
		return err
	}
	data, err := yaml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("encode construct %q: %w", clean.ID, err)
	}

	target := filepath.Join(r.dir, clean.ID+".yaml")
	if err := writeAtomic(target, data); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.files[clean.ID]; ok && old != target {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale file %q: %w", old, err)
		}
	}
	r.constructs[clean.ID] = clean
	r.files[clean.ID] = target
	return nil
}

func (r *Registry) Delete(id string) error {
	id = normalizeID(id)
	if err := validateID(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete construct %q: %w", id, err)
	}
	delete(r.constructs, id)
	delete(r.files, id)
	return nil
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".construct-*")
	if err != nil {
		return fmt.Errorf("stage %q: %w", target, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("stage %q: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage %q: %w", target, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("stage %q: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("write construct %q: %w", target, err)
	}
	return nil
}

func isConstructFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func scanDir(dir string) (map[string]*Construct, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read constructs dir: %w", err)
	}

	constructs := make(map[string]*Construct)
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isConstructFile(entry.Name()) {
			continue
		}
		file := filepath.Join(dir, entry.Name())
		c, err := readConstruct(file)
		if err != nil {
			return nil, nil, err
		}
		if prev, dup := files[c.ID]; dup {
			return nil, nil, fmt.Errorf("construct %q defined in both %s and %s", c.ID, prev, file)
		}
		constructs[c.ID] = c
		files[c.ID] = file
	}
	return constructs, files, nil
}

func readConstruct(file string) (*Construct, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read construct %q: %w", file, err)
	}
	var c Construct
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse construct %q: %w", file, err)
	}
	c.ID = normalizeID(c.ID)
	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return &c, nil
}

func validate(c *Construct) error {
	if err := validateID(c.ID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" && PromptName(c.Prompt) == "" {
		return errors.New("name or a **YOU ARE NAME** prompt is required")
	}
	switch c.Mode {
	case "", ModeBranded, ModeLinear:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Traits == nil {
		c.Traits = []string{}
	}
	return nil
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if !constructIDPattern.MatchString(id) {
		return fmt.Errorf("id %q must be lowercase alphanumeric with hyphens", id)
	}
	return nil
}

func cloneConstruct(c *Construct) *Construct {
	if c == nil {
		return nil
	}
	out := *c
	out.Traits = append([]string(nil), c.Traits...)
	return &out
}
