package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// PerformStartupChecks fails fast on problems that would otherwise surface
// only after a session completed: the export directory must exist (or be
// creatable) and be writable before the daemon accepts work.
func PerformStartupChecks(cfg Config) error {
	if err := os.MkdirAll(cfg.ExportDir, 0o755); err != nil {
		return fmt.Errorf("create export directory %s: %w", cfg.ExportDir, err)
	}

	probe := filepath.Join(cfg.ExportDir, ".wacapture-write-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return fmt.Errorf("export directory %s is not writable: %w", cfg.ExportDir, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("cleanup write probe in %s: %w", cfg.ExportDir, err)
	}
	return nil
}
