package seat

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const envModelPrefix = "CHORUS_MODEL_"

var builtinSeats = map[ID]Descriptor{
	Coding:    {ID: Coding, Model: "deepseek-coder:6.7b", Role: "Coding Expert"},
	Creative:  {ID: Creative, Model: "mistral:latest", Role: "Creative Expert"},
	Smalltalk: {ID: Smalltalk, Model: "phi3:latest", Role: "Conversational Expert"},
}

type fileSeat struct {
	Model string `yaml:"model"`
	Role  string `yaml:"role"`
}

type fileConfig struct {
	Seats map[string]fileSeat `yaml:"seats"`
}

type ResolverOptions struct {
	// Path of the seats YAML file. Empty means built-in defaults only.
	Path string
	// Data, when set, is parsed instead of reading Path.
	Data      []byte
	LookupEnv func(string) (string, bool)
	Logger    *slog.Logger
}

// Resolver maps seat names to model identifiers. Precedence, highest first:
// explicit override, CHORUS_MODEL_<SEAT> environment variable, seats file,
// built-in default. The file is read once; a missing or malformed file is
// treated as empty.
type Resolver struct {
	path      string
	data      []byte
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger

	once  sync.Once
	seats map[ID]fileSeat
}

func NewResolver(opts ResolverOptions) *Resolver {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		path:      strings.TrimSpace(opts.Path),
		data:      opts.Data,
		lookupEnv: lookup,
		logger:    logger,
	}
}

func EnvKey(id ID) string {
	return envModelPrefix + strings.ToUpper(string(id))
}

func (r *Resolver) Resolve(id ID, override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	if v, ok := r.lookupEnv(EnvKey(id)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if s, ok := r.loaded()[id]; ok && strings.TrimSpace(s.Model) != "" {
		return strings.TrimSpace(s.Model)
	}
	if d, ok := builtinSeats[id]; ok {
		return d.Model
	}
	return builtinSeats[Smalltalk].Model
}

// Role returns the human-readable label used for helper output sections, or
// "" when none is known.
func (r *Resolver) Role(id ID) string {
	if s, ok := r.loaded()[id]; ok && strings.TrimSpace(s.Role) != "" {
		return strings.TrimSpace(s.Role)
	}
	return builtinSeats[id].Role
}

func (r *Resolver) Descriptor(id ID) Descriptor {
	return Descriptor{ID: id, Model: r.Resolve(id, ""), Role: r.Role(id)}
}

func (r *Resolver) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(HelperOrder))
	for _, id := range HelperOrder {
		out = append(out, r.Descriptor(id))
	}
	return out
}

func (r *Resolver) loaded() map[ID]fileSeat {
	r.once.Do(func() {
		seats, err := r.load()
		if err != nil {
			r.logger.Debug("seat config unavailable, using defaults", "path", r.path, "error", err)
			seats = map[ID]fileSeat{}
		}
		r.seats = seats
	})
	return r.seats
}

func (r *Resolver) load() (map[ID]fileSeat, error) {
	data := r.data
	if data == nil {
		if r.path == "" {
			return map[ID]fileSeat{}, nil
		}
		raw, err := os.ReadFile(r.path)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse seat config: %w", err)
	}
	seats := make(map[ID]fileSeat, len(cfg.Seats))
	for name, s := range cfg.Seats {
		id, ok := ParseID(name)
		if !ok {
			continue
		}
		seats[id] = s
	}
	return seats, nil
}
