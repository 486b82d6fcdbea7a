// Package config loads the finz configuration and resolves its file locations.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// MemoryDatabase selects a throwaway in-memory database.
const MemoryDatabase = ":memory:"

// Dir is where config.yaml is looked up: $XDG_CONFIG_HOME/finz, or
// ~/.config/finz when XDG_CONFIG_HOME is unset.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "finz"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "finz"), nil
}

// DefaultDatabasePath is where the database lives unless configured.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "finz.db"
	}
	return filepath.Join(home, ".local", "share", "finz", "finz.db")
}

// ExpandPath resolves a leading ~ and $VAR references in a configured path.
// The in-memory database name passes through untouched.
func ExpandPath(path string) string {
	if path == "" || path == MemoryDatabase {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
