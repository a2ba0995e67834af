package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/user/chorus/configs"
)

const embeddedConstructDir = "constructs"

// ensureDefaults copies the embedded constructs into dir unless it already
// holds at least one construct file.
func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read constructs dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isConstructFile(entry.Name()) {
			return nil
		}
	}

	defaults, err := fs.ReadDir(configs.ConstructDefaults, embeddedConstructDir)
	if err != nil {
		return fmt.Errorf("list embedded constructs: %w", err)
	}
	for _, entry := range defaults {
		if entry.IsDir() || !isConstructFile(entry.Name()) {
			continue
		}
		content, err := fs.ReadFile(configs.ConstructDefaults, embeddedConstructDir+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read embedded construct %q: %w", entry.Name(), err)
		}
		dst := filepath.Join(dir, entry.Name())
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("seed construct %q: %w", dst, err)
		}
	}
	return nil
}
