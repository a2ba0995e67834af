package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRegistryCreatesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "constructs")
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(got))
	}

	for _, id := range []string{"zen", "lin"} {
		if r.Get(id) == nil {
			t.Fatalf("expected default construct %q", id)
		}
		if _, err := os.Stat(filepath.Join(dir, id+".yaml")); err != nil {
			t.Fatalf("default file missing for %q: %v", id, err)
		}
	}
	if got := r.Get("lin").Mode; got != ModeLinear {
		t.Fatalf("lin mode = %q, want %q", got, ModeLinear)
	}
	if got := r.Get("ZEN"); got == nil || got.ID != "zen" {
		t.Fatalf("Get(ZEN) = %#v, want case-insensitive lookup", got)
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		c    Construct
		want string
	}{
		{Construct{ID: "zen", Name: "Zen Prime", Prompt: "**YOU ARE ZEN**"}, "Zen Prime"},
		{Construct{ID: "zen", Prompt: "intro\n**YOU ARE ZEN**\nrest"}, "ZEN"},
		{Construct{ID: "nova"}, "Nova"},
	}
	for _, tc := range cases {
		if got := tc.c.DisplayName(); got != tc.want {
			t.Fatalf("DisplayName(%#v) = %q, want %q", tc.c, got, tc.want)
		}
	}
}

func TestNewRegistryValidationFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "constructs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: bad-construct\nname: \"\"\nprompt: no marker here\n"), 0o644); err != nil {
		t.Fatalf("write bad file: %v", err)
	}

	if _, err := NewRegistry(dir); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRegistrySaveDeleteReload(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "constructs")
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	custom := &Construct{
		ID:     "nova",
		Prompt: "**YOU ARE NOVA**\nA navigator.",
		Mode:   ModeBranded,
	}
	if err := r.Save(custom); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := r.Get("nova"); got == nil || got.DisplayName() != "NOVA" {
		t.Fatalf("Get(nova) = %#v", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "nova.yaml"), []byte("id: nova\nname: Nova\n"), 0o644); err != nil {
		t.Fatalf("overwrite file: %v", err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := r.Get("nova"); got == nil || got.Name != "Nova" {
		t.Fatalf("after reload = %#v", got)
	}

	if err := r.Delete("nova"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := r.Get("nova"); got != nil {
		t.Fatalf("expected deleted construct, got %#v", got)
	}
	if err := r.Delete("nova"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestRegistrySaveReplacesLoadedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "constructs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Echo.yml"), []byte("id: Echo\nname: Echo\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".scratch.yaml"), []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("write hidden file: %v", err)
	}

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := r.List(); len(got) != 1 || got[0].ID != "echo" {
		t.Fatalf("List() = %#v, want only echo", got)
	}

	if err := r.Save(&Construct{ID: "echo", Name: "Echo", Voice: "quiet"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Echo.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale file still present: %v", err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := r.Get("echo"); got == nil || got.Voice != "quiet" {
		t.Fatalf("Get(echo) = %#v", got)
	}

	if err := r.Delete("echo"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "echo.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("deleted file still present: %v", err)
	}
}

func TestRegistryDuplicateIDs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "constructs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("id: twin\nname: Twin\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if _, err := NewRegistry(dir); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestRegistrySaveValidation(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "constructs"))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := r.Save(&Construct{ID: "Bad_ID", Name: "Bad"}); err == nil {
		t.Fatalf("expected invalid id error")
	}
	if err := r.Save(&Construct{ID: "odd", Name: "Odd", Mode: "sideways"}); err == nil {
		t.Fatalf("expected invalid mode error")
	}
}
