package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const AppName = "trader"

// GetWorkspaceDir returns the root for all runtime data. A local _workspace
// directory wins when present, keeping dev runs and checkouts self-contained;
// otherwise the platform data directory is used.
func GetWorkspaceDir() string {
	const local = "_workspace"
	if _, err := os.Stat(local); err == nil {
		return local
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(base, AppName)
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", AppName)
	case "linux":
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, AppName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", AppName)
	}
	return local
}

// EnsureDir creates the directory tree if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile guards against a second process sharing the workspace. Two
// writers on one audit database corrupt it, so startup fails fast instead.
// The returned func releases the lock.
func CreateLockFile(workDir string) (func(), error) {
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}
	// PID in the lock file identifies the holder after a crash.
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath locates config.yaml: the working directory first, then
// the platform config directory. The default path is returned even when
// nothing exists so the loader can report a single canonical location.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	return defaultPath
}
