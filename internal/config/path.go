package config

import (
	"os"
	"path/filepath"
)

// EnvConfigDir overrides the directory returned by Dir.
const EnvConfigDir = "RESLOAD_CONFIG_DIR"

// Dir is the per-user directory for settings, history and downloads.
// It falls back to ./.resload when the OS reports no config location.
func Dir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return ".resload"
	}
	return filepath.Join(base, "resload")
}

func HistoryPath() string {
	return filepath.Join(Dir(), "history.json")
}

func DownloadDir() string {
	return filepath.Join(Dir(), "downloads")
}
